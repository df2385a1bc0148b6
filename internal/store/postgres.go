package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the LISTEN channel the row trigger publishes on.
const NotifyChannel = "row_changes"

const (
	pgUniqueViolation   = "23505"
	pgUndefinedFunction = "42883"
)

// PostgresOption configures a Postgres backend.
type PostgresOption func(*Postgres)

// WithNotifyChannel overrides the change-feed channel name.
func WithNotifyChannel(channel string) PostgresOption {
	return func(p *Postgres) { p.channel = channel }
}

// WithMaxSubscriptions caps concurrent change-feed subscriptions.
func WithMaxSubscriptions(n int) PostgresOption {
	return func(p *Postgres) { p.hub.limit = n }
}

// Postgres is a Backend over a pgx pool. The change feed is a single
// LISTEN connection shared by every subscription.
type Postgres struct {
	pool    *pgxpool.Pool
	hub     *hub
	channel string

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPostgres creates a backend over pool. The pool is owned by the caller.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		pool:    pool,
		hub:     newHub(0),
		channel: NotifyChannel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnList(def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quote(c)
	}
	return strings.Join(cols, ", ")
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func placeholder(args []any, v any) ([]any, string) {
	args = append(args, normalize(v))
	return args, "$" + strconv.Itoa(len(args))
}

// buildWhere renders filters as a conjunction, appending parameters to args.
func buildWhere(filters []Filter, args []any) (string, []any) {
	var parts []string
	var ph string
	for _, f := range filters {
		if f.IsZero() {
			continue
		}
		col := quote(f.Column)
		switch f.Op {
		case OpEq:
			if f.Value == nil {
				parts = append(parts, col+" IS NULL")
				continue
			}
			args, ph = placeholder(args, f.Value)
			parts = append(parts, col+" = "+ph)
		case OpIn:
			values := inValues(f.Value)
			if len(values) == 0 {
				parts = append(parts, "FALSE")
				continue
			}
			phs := make([]string, len(values))
			for i, v := range values {
				args, phs[i] = placeholder(args, v)
			}
			parts = append(parts, col+" IN ("+strings.Join(phs, ", ")+")")
		case OpGte:
			args, ph = placeholder(args, f.Value)
			parts = append(parts, col+" >= "+ph)
		case OpLt:
			args, ph = placeholder(args, f.Value)
			parts = append(parts, col+" < "+ph)
		}
	}
	return strings.Join(parts, " AND "), args
}

func collect(rows pgx.Rows) ([]Row, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

// Insert stores row and returns it as persisted.
func (p *Postgres) Insert(ctx context.Context, table string, row Row) (Row, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkRow(row); err != nil {
		return nil, err
	}

	var query string
	var args []any
	if len(row) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quote(def.Name), columnList(def))
	} else {
		keys := sortedKeys(row)
		cols := make([]string, len(keys))
		phs := make([]string, len(keys))
		for i, k := range keys {
			cols[i] = quote(k)
			args, phs[i] = placeholder(args, row[k])
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(def.Name), strings.Join(cols, ", "), strings.Join(phs, ", "), columnList(def))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", def.Name, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", def.Name, mapPgError(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("failed to insert into %s: no row returned", def.Name)
	}
	return out[0], nil
}

// Update applies patch to the row when the guard holds. The guard is part
// of the UPDATE's WHERE clause, so row locking makes it atomic.
func (p *Postgres) Update(ctx context.Context, table, id string, patch Row, guard []Filter) ([]Row, error) {
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

	var args []any
	var ph string
	sets := make([]string, 0, len(patch)+1)
	for _, k := range sortedKeys(patch) {
		if k == "id" || k == "created_at" {
			continue
		}
		args, ph = placeholder(args, patch[k])
		sets = append(sets, quote(k)+" = "+ph)
	}
	if _, ok := patch["updated_at"]; !ok {
		sets = append(sets, quote("updated_at")+" = NOW()")
	}

	args, ph = placeholder(args, id)
	where := quote("id") + " = " + ph
	var cond string
	cond, args = buildWhere(guard, args)
	if cond != "" {
		where += " AND " + cond
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		quote(def.Name), strings.Join(sets, ", "), where, columnList(def))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", def.Name, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", def.Name, mapPgError(err))
	}
	return out, nil
}

// Select runs q against table.
func (p *Postgres) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkQuery(q); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columnList(def), quote(def.Name))
	where, args := buildWhere(q.Filters, nil)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if q.OrderBy != "" {
		sb.WriteString(" ORDER BY " + quote(q.OrderBy))
		if q.Desc {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", def.Name, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", def.Name, err)
	}
	return out, nil
}

// Delete removes the row with the given id.
func (p *Postgres) Delete(ctx context.Context, table, id string) (bool, error) {
	def, err := lookupTable(table)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quote(def.Name), quote("id"))
	result, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", def.Name, err)
	}
	return result.RowsAffected() > 0, nil
}

// Call invokes a set-returning procedure.
func (p *Postgres) Call(ctx context.Context, procedure string, args ...any) ([]Row, error) {
	if !knownProcedure(procedure) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}
	phs := make([]string, len(args))
	params := make([]any, 0, len(args))
	for i, a := range args {
		params, phs[i] = placeholder(params, a)
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", quote(procedure), strings.Join(phs, ", "))

	rows, err := p.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, callError(procedure, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, callError(procedure, err)
	}
	return out, nil
}

func callError(procedure string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedFunction {
		return fmt.Errorf("%w: %s", ErrProcedureMissing, procedure)
	}
	return fmt.Errorf("failed to call %s: %w", procedure, mapPgError(err))
}

// HasProcedure probes pg_proc for the procedure.
func (p *Postgres) HasProcedure(ctx context.Context, procedure string) (bool, error) {
	if !knownProcedure(procedure) {
		return false, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}
	const query = `SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`

	var exists bool
	if err := p.pool.QueryRow(ctx, query, procedure).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to probe procedure %s: %w", procedure, err)
	}
	return exists, nil
}

// Subscribe registers handlers for changes on table. The LISTEN connection
// is opened on first use.
func (p *Postgres) Subscribe(table string, filter Filter, h Handlers) (*Subscription, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := def.checkFilters([]Filter{filter}); err != nil {
		return nil, err
	}
	p.startOnce.Do(p.startListener)
	return p.hub.add(table, filter, h)
}

// Unsubscribe stops delivery to sub.
func (p *Postgres) Unsubscribe(sub *Subscription) {
	p.hub.remove(sub)
}

// Close stops the listener and every subscription. The pool stays open.
func (p *Postgres) Close() {
	p.startOnce.Do(func() {})
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.hub.closeAll()
}

func (p *Postgres) startListener() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.listen(ctx)
}

func (p *Postgres) listen(ctx context.Context) {
	defer p.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := p.listenOnce(ctx, b)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Str("channel", p.channel).Msg("Change feed listener disconnected")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Change feed listener stopped")
	}
}

// listenOnce holds a dedicated connection until it fails or ctx ends.
func (p *Postgres) listenOnce(ctx context.Context, b backoff.BackOff) error {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+quote(p.channel)); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.channel, err)
	}
	b.Reset()
	log.Info().Str("channel", p.channel).Msg("Change feed listener connected")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		change, err := decodeChange([]byte(n.Payload))
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed change notification")
			continue
		}
		p.hub.publish(change)
	}
}

// decodeChange parses a trigger payload. Numbers are kept exact and every
// value is normalized so filters compare the same way as for driver rows.
func decodeChange(payload []byte) (Change, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var c Change
	if err := dec.Decode(&c); err != nil {
		return Change{}, fmt.Errorf("failed to decode change: %w", err)
	}
	if _, err := lookupTable(c.Table); err != nil {
		return Change{}, err
	}
	switch c.Op {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return Change{}, fmt.Errorf("unknown change op %q", c.Op)
	}
	for k, v := range c.Row {
		c.Row[k] = normalize(v)
	}
	return c, nil
}
