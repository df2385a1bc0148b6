package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gameType string

func TestRow_Getters(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	r := Row{
		"s":      "text",
		"named":  gameType("omok"),
		"i32":    int32(7),
		"f64":    float64(3),
		"num":    json.Number("12"),
		"b":      true,
		"t":      ts,
		"tstr":   "2024-05-06T07:08:09+00:00",
		"pgtime": "2024-05-06 07:08:09.000000+00",
		"null":   nil,
	}

	assert.Equal(t, "text", r.String("s"))
	assert.Equal(t, "omok", r.String("named"))
	assert.Equal(t, "", r.String("missing"))
	assert.Equal(t, int64(7), r.Int64("i32"))
	assert.Equal(t, int64(3), r.Int64("f64"))
	assert.Equal(t, int64(12), r.Int64("num"))
	assert.True(t, r.Bool("b"))
	assert.Equal(t, ts, r.Time("t"))
	assert.Equal(t, ts, r.Time("tstr"))
	assert.Equal(t, ts, r.Time("pgtime"))
	assert.Nil(t, r.StringPtr("null"))
	assert.Nil(t, r.StringPtr("missing"))
	require.NotNil(t, r.StringPtr("s"))
}

func TestMatches(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	row := Row{"game_type": "omok", "games_played": int64(3), "is_private": false, "created_at": ts}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"zero filter", Filter{}, true},
		{"eq named type", Eq("game_type", gameType("omok")), true},
		{"eq mismatch", Eq("game_type", "chess"), false},
		{"eq int vs float", Eq("games_played", 3.0), true},
		{"eq bool", Eq("is_private", false), true},
		{"in hit", In("game_type", "chess", "omok"), true},
		{"in typed slice", Filter{Column: "game_type", Op: OpIn, Value: []string{"omok"}}, true},
		{"in miss", In("game_type", "chess"), false},
		{"gte time", Gte("created_at", ts), true},
		{"lt time", Lt("created_at", ts), false},
		{"lt time string", Lt("created_at", "2024-06-01T00:00:00Z"), true},
		{"missing column", Eq("room_title", "x"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matches(row, tc.filter))
		})
	}
}

func TestDecodeChange(t *testing.T) {
	payload := []byte(`{"table":"game_rooms","op":"UPDATE","row":{"id":"r1","game_type":"omok","games_played":4,"is_private":false,"updated_at":"2024-05-06T07:08:09.123456+00:00"}}`)

	c, err := decodeChange(payload)
	require.NoError(t, err)
	assert.Equal(t, TableRooms, c.Table)
	assert.Equal(t, ChangeUpdate, c.Op)
	assert.Equal(t, int64(4), c.Row["games_played"])
	assert.True(t, matches(c.Row, Eq("games_played", 4)))
	assert.False(t, c.Row.Time("updated_at").IsZero())

	_, err = decodeChange([]byte(`{"table":"users","op":"INSERT","row":{}}`))
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = decodeChange([]byte(`{"table":"game_rooms","op":"TRUNCATE","row":{}}`))
	assert.Error(t, err)

	_, err = decodeChange([]byte(`not json`))
	assert.Error(t, err)
}
