package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// procFunc runs with the Memory lock held.
type procFunc func(m *Memory, args []any) ([]Row, error)

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithProcedures installs the server-side procedures so the atomic paths
// are available.
func WithProcedures() MemoryOption {
	return func(m *Memory) {
		m.procs[ProcIncrementGamesPlayed] = incrementGamesPlayed
		m.procs[ProcRecordAIGameResult] = recordAIGameResult
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithSubscriptionLimit caps concurrent change-feed subscriptions.
func WithSubscriptionLimit(n int) MemoryOption {
	return func(m *Memory) { m.hub.limit = n }
}

type memTable struct {
	rows  map[string]Row
	order map[string]uint64
}

// Memory is an in-process Backend. All operations, including guarded
// updates and procedures, are serialized by a single mutex.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*memTable
	procs  map[string]procFunc
	seq    uint64
	now    func() time.Time
	hub    *hub
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables: make(map[string]*memTable, len(Tables)),
		procs:  make(map[string]procFunc),
		now:    time.Now,
		hub:    newHub(0),
	}
	for name := range Tables {
		m.tables[name] = &memTable{rows: make(map[string]Row), order: make(map[string]uint64)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) timestamp() time.Time {
	return m.now().UTC()
}

// Insert stores a new row, filling defaults, id and timestamps.
func (m *Memory) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkRow(row); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.insertLocked(def, row)
}

func (m *Memory) insertLocked(def TableDef, row Row) (Row, error) {
	t := m.tables[def.Name]
	stored := make(Row, len(def.Columns))
	for k, v := range def.Defaults {
		stored[k] = v
	}
	for k, v := range row {
		stored[k] = normalize(v)
	}
	now := m.timestamp()
	if stored.String("id") == "" {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = now
	}
	if _, ok := stored["updated_at"]; !ok {
		stored["updated_at"] = now
	}

	id := stored.String("id")
	if _, exists := t.rows[id]; exists {
		return nil, fmt.Errorf("%w: %s.id=%s", ErrUniqueViolation, def.Name, id)
	}
	if err := m.checkUniqueLocked(def, stored, ""); err != nil {
		return nil, err
	}

	m.seq++
	t.rows[id] = stored
	t.order[id] = m.seq
	m.hub.publish(Change{Table: def.Name, Op: ChangeInsert, Row: stored})
	return stored.Clone(), nil
}

func (m *Memory) checkUniqueLocked(def TableDef, row Row, selfID string) error {
	t := m.tables[def.Name]
	for _, key := range def.Unique {
		for id, other := range t.rows {
			if id == selfID {
				continue
			}
			if sameKey(row, other, key) {
				return fmt.Errorf("%w: %s%v", ErrUniqueViolation, def.Name, key)
			}
		}
	}
	return nil
}

func sameKey(a, b Row, cols []string) bool {
	for _, c := range cols {
		if cmp, ok := compare(a[c], b[c]); !ok || cmp != 0 {
			return false
		}
	}
	return true
}

// Update applies patch when every guard filter still holds. updated_at is
// always refreshed, so an empty patch acts as a touch.
func (m *Memory) Update(ctx context.Context, table, id string, patch Row, guard []Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkRow(patch); err != nil {
		return nil, err
	}
	if err := def.checkFilters(guard); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	updated, err := m.updateLocked(def, id, patch, guard)
	if err != nil || updated == nil {
		return nil, err
	}
	return []Row{updated.Clone()}, nil
}

func (m *Memory) updateLocked(def TableDef, id string, patch Row, guard []Filter) (Row, error) {
	t := m.tables[def.Name]
	current, ok := t.rows[id]
	if !ok || !matchesAll(current, guard) {
		return nil, nil
	}

	next := current.Clone()
	for k, v := range patch {
		if k == "id" || k == "created_at" {
			continue
		}
		next[k] = normalize(v)
	}
	if _, ok := patch["updated_at"]; !ok {
		next["updated_at"] = m.timestamp()
	}
	if err := m.checkUniqueLocked(def, next, id); err != nil {
		return nil, err
	}

	t.rows[id] = next
	m.hub.publish(Change{Table: def.Name, Op: ChangeUpdate, Row: next})
	return next, nil
}

// Select returns matching rows in query order, falling back to insertion
// order.
func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkQuery(q); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	t := m.tables[def.Name]
	out := make([]Row, 0)
	for _, row := range t.rows {
		if matchesAll(row, q.Filters) {
			out = append(out, row.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c, ok := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if ok && c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		oi, oj := t.order[out[i].String("id")], t.order[out[j].String("id")]
		if q.Desc && q.OrderBy != "" {
			return oi > oj
		}
		return oi < oj
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes the row and reports whether it existed.
func (m *Memory) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	def, err := lookupTable(table)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	t := m.tables[def.Name]
	row, ok := t.rows[id]
	if !ok {
		return false, nil
	}
	delete(t.rows, id)
	delete(t.order, id)
	m.hub.publish(Change{Table: def.Name, Op: ChangeDelete, Row: row})
	return true, nil
}

// Call runs an installed procedure.
func (m *Memory) Call(ctx context.Context, procedure string, args ...any) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !knownProcedure(procedure) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	fn, ok := m.procs[procedure]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureMissing, procedure)
	}
	rows, err := fn(m, args)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// HasProcedure reports whether the procedure is installed.
func (m *Memory) HasProcedure(ctx context.Context, procedure string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !knownProcedure(procedure) {
		return false, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.procs[procedure]
	return ok, nil
}

// Subscribe registers handlers for changes on table matching filter.
func (m *Memory) Subscribe(table string, filter Filter, h Handlers) (*Subscription, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkFilters([]Filter{filter}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return m.hub.add(table, filter, h)
}

// Unsubscribe stops delivery to sub.
func (m *Memory) Unsubscribe(sub *Subscription) {
	m.hub.remove(sub)
}

// Close stops every subscription; later calls fail with ErrClosed.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.closeAll()
}

func incrementGamesPlayed(m *Memory, args []any) ([]Row, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expected 1 argument, got %d", ProcIncrementGamesPlayed, len(args))
	}
	def := Tables[TableRooms]
	id := fmt.Sprint(normalize(args[0]))
	current, ok := m.tables[def.Name].rows[id]
	if !ok {
		return nil, nil
	}
	row, err := m.updateLocked(def, id, Row{"games_played": current.Int64("games_played") + 1}, nil)
	if err != nil || row == nil {
		return nil, err
	}
	return []Row{row}, nil
}

func recordAIGameResult(m *Memory, args []any) ([]Row, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("%s: expected 4 arguments, got %d", ProcRecordAIGameResult, len(args))
	}
	key := Row{
		"player_id":  normalize(args[0]),
		"game_type":  normalize(args[1]),
		"difficulty": normalize(args[2]),
	}
	var column string
	switch fmt.Sprint(normalize(args[3])) {
	case "win":
		column = "wins"
	case "loss":
		column = "losses"
	case "draw":
		column = "draws"
	default:
		return nil, fmt.Errorf("%s: invalid result %v", ProcRecordAIGameResult, args[3])
	}

	def := Tables[TableAIStats]
	for id, row := range m.tables[def.Name].rows {
		if sameKey(row, key, def.Unique[0]) {
			updated, err := m.updateLocked(def, id, Row{column: row.Int64(column) + 1}, nil)
			if err != nil {
				return nil, err
			}
			return []Row{updated}, nil
		}
	}

	key[column] = int64(1)
	inserted, err := m.insertLocked(def, key)
	if err != nil {
		return nil, err
	}
	return []Row{inserted}, nil
}
