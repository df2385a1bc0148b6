package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const subscriptionBuffer = 64

// Subscription is a handle to a live change feed. Events for one
// subscription are delivered in order on a dedicated goroutine.
type Subscription struct {
	id       string
	table    string
	filter   Filter
	handlers Handlers
	events   chan Change
	done     chan struct{}
	once     sync.Once
}

func newSubscription(table string, filter Filter, h Handlers) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		table:    table,
		filter:   filter,
		handlers: h,
		events:   make(chan Change, subscriptionBuffer),
		done:     make(chan struct{}),
	}
}

// inertSubscription never delivers anything. It is handed out when no
// backend is configured so callers always hold a valid handle.
func inertSubscription(table string, filter Filter) *Subscription {
	s := newSubscription(table, filter, Handlers{})
	s.stop()
	return s
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Table returns the subscribed table.
func (s *Subscription) Table() string { return s.table }

// Done is closed once the subscription stops delivering events.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case c := <-s.events:
			s.dispatch(c)
		}
	}
}

func (s *Subscription) dispatch(c Change) {
	var fn func(Row)
	switch c.Op {
	case ChangeInsert:
		fn = s.handlers.OnInsert
	case ChangeUpdate:
		fn = s.handlers.OnUpdate
	case ChangeDelete:
		fn = s.handlers.OnDelete
	}
	if fn != nil {
		fn(c.Row)
	}
}

// hub fans change events out to subscriptions.
type hub struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	limit int
}

func newHub(limit int) *hub {
	return &hub{subs: make(map[string]*Subscription), limit: limit}
}

func (h *hub) add(table string, filter Filter, handlers Handlers) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && len(h.subs) >= h.limit {
		return nil, ErrSubscriptionLimit
	}
	sub := newSubscription(table, filter, handlers)
	h.subs[sub.id] = sub
	go sub.run()
	return sub, nil
}

func (h *hub) remove(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.stop()
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// publish delivers c to every matching subscription without blocking; a
// subscriber whose buffer is full loses the event.
func (h *hub) publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.table != c.Table || !matches(c.Row, sub.filter) {
			continue
		}
		select {
		case sub.events <- Change{Table: c.Table, Op: c.Op, Row: c.Row.Clone()}:
		default:
			log.Warn().
				Str("subscription", sub.id).
				Str("table", c.Table).
				Str("op", string(c.Op)).
				Msg("Change feed subscriber is lagging, event dropped")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
