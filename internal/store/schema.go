package store

import "fmt"

// Logical table names.
const (
	TableRooms   = "game_rooms"
	TableAIStats = "ai_game_stats"
)

// Optional server-side procedures.
const (
	ProcIncrementGamesPlayed = "increment_games_played"
	ProcRecordAIGameResult   = "record_ai_game_result"
)

// TableDef describes one logical table: its columns, the values filled in
// on insert when a column is absent, unique keys beyond the id, and the
// column change-feed filters may use.
type TableDef struct {
	Name     string
	Columns  []string
	Defaults Row
	Unique   [][]string
	FeedKey  string
}

// Tables is the schema shared by every backend.
var Tables = map[string]TableDef{
	TableRooms: {
		Name: TableRooms,
		Columns: []string{
			"id", "host_name", "host_id", "room_title", "game_type", "status",
			"is_private", "games_played", "created_at", "updated_at",
		},
		Defaults: Row{"status": "waiting", "is_private": false, "games_played": int64(0)},
		FeedKey:  "game_type",
	},
	TableAIStats: {
		Name: TableAIStats,
		Columns: []string{
			"id", "player_id", "game_type", "difficulty", "wins", "losses", "draws",
			"created_at", "updated_at",
		},
		Defaults: Row{"wins": int64(0), "losses": int64(0), "draws": int64(0)},
		Unique:   [][]string{{"player_id", "game_type", "difficulty"}},
		FeedKey:  "game_type",
	},
}

// Procedures lists the procedures a backend may expose.
var Procedures = []string{ProcIncrementGamesPlayed, ProcRecordAIGameResult}

func lookupTable(name string) (TableDef, error) {
	def, ok := Tables[name]
	if !ok {
		return TableDef{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return def, nil
}

// HasColumn reports whether col belongs to the table.
func (d TableDef) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

func (d TableDef) checkRow(row Row) error {
	for col := range row {
		if !d.HasColumn(col) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, d.Name, col)
		}
	}
	return nil
}

func (d TableDef) checkFilters(filters []Filter) error {
	for _, f := range filters {
		if f.IsZero() {
			continue
		}
		if !d.HasColumn(f.Column) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, d.Name, f.Column)
		}
		switch f.Op {
		case OpEq, OpIn, OpGte, OpLt:
		default:
			return fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Op)
		}
	}
	return nil
}

func (d TableDef) checkQuery(q Query) error {
	if err := d.checkFilters(q.Filters); err != nil {
		return err
	}
	if q.OrderBy != "" && !d.HasColumn(q.OrderBy) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, d.Name, q.OrderBy)
	}
	return nil
}

func knownProcedure(name string) bool {
	for _, p := range Procedures {
		if p == name {
			return true
		}
	}
	return false
}
