// Package store provides the persistent room store: a row-level adapter over
// a relational backend with guarded atomic updates and a change feed.
package store

import (
	"context"
	"errors"
)

// Common errors for backend operations.
var (
	ErrUnknownTable      = errors.New("unknown table")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrUnknownProcedure  = errors.New("unknown procedure")
	ErrProcedureMissing  = errors.New("procedure not installed")
	ErrUniqueViolation   = errors.New("unique constraint violation")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrSubscriptionLimit = errors.New("subscription limit reached")
	ErrClosed            = errors.New("store closed")
)

// Op is a filter comparison operator.
type Op string

// Filter operators.
const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGte Op = "gte"
	OpLt  Op = "lt"
)

// Filter is a single predicate on a column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq matches rows whose column equals v.
func Eq(column string, v any) Filter {
	return Filter{Column: column, Op: OpEq, Value: v}
}

// In matches rows whose column is one of vs.
func In(column string, vs ...any) Filter {
	return Filter{Column: column, Op: OpIn, Value: vs}
}

// Gte matches rows whose column is greater than or equal to v.
func Gte(column string, v any) Filter {
	return Filter{Column: column, Op: OpGte, Value: v}
}

// Lt matches rows whose column is strictly less than v.
func Lt(column string, v any) Filter {
	return Filter{Column: column, Op: OpLt, Value: v}
}

// IsZero reports whether f is the empty filter (matches everything).
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Query describes a select.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where builds a query from filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// OrderedBy returns a copy of q ordered by column.
func (q Query) OrderedBy(column string, desc bool) Query {
	q.OrderBy = column
	q.Desc = desc
	return q
}

// ChangeOp is the kind of row change delivered by the change feed.
type ChangeOp string

// Change feed operations.
const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// Change is one row-level event.
type Change struct {
	Table string   `json:"table"`
	Op    ChangeOp `json:"op"`
	Row   Row      `json:"row"`
}

// Handlers receives change events. Nil handlers are skipped.
type Handlers struct {
	OnInsert func(Row)
	OnUpdate func(Row)
	OnDelete func(Row)
}

// Backend is a relational store implementation. Backends report failures
// as errors; the Adapter converts them to neutral results.
type Backend interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to the row with the given id. When guard is
	// non-empty the update only takes effect if every guard filter still
	// holds, atomically with respect to concurrent updates. The returned
	// slice is empty when the row is missing or the guard failed.
	Update(ctx context.Context, table, id string, patch Row, guard []Filter) ([]Row, error)
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Delete(ctx context.Context, table, id string) (bool, error)
	Call(ctx context.Context, procedure string, args ...any) ([]Row, error)
	HasProcedure(ctx context.Context, procedure string) (bool, error)
	Subscribe(table string, filter Filter, h Handlers) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	Close()
}
