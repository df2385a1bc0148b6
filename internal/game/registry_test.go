package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"game-session-hub/internal/model"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, len(model.KnownGameTypes()), r.Count())
	assert.Equal(t, model.KnownGameTypes(), r.Types())
	assert.NotContains(t, r.AITypes(), model.GameBaduk)
	assert.Contains(t, r.AITypes(), model.GameOmok)

	d, ok := r.Get(model.GameOthello)
	require.True(t, ok)
	assert.Equal(t, 8, d.BoardSize)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		game    Descriptor
		wantErr bool
	}{
		{"valid custom", Descriptor{Type: "dots_and_boxes", Name: "Dots and Boxes", BoardSize: 5}, false},
		{"empty type", Descriptor{Name: "Nameless"}, true},
		{"bad type", Descriptor{Type: "Hex Game!", Name: "Hex"}, true},
		{"empty name", Descriptor{Type: "hex"}, true},
		{"negative board", Descriptor{Type: "hex", Name: "Hex", BoardSize: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.game)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegister_ReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Type: "a", Name: "A"}))
	require.NoError(t, r.Register(Descriptor{Type: "b", Name: "B"}))
	require.NoError(t, r.Register(Descriptor{Type: "a", Name: "A2"}))

	assert.Equal(t, []model.GameType{"a", "b"}, r.Types())
	d, _ := r.Get("a")
	assert.Equal(t, "A2", d.Name)
}

func TestLookup(t *testing.T) {
	r := NewDefaultRegistry()

	d, err := r.Lookup("  OMOK ")
	require.NoError(t, err)
	assert.Equal(t, model.GameOmok, d.Type)

	_, err = r.Lookup("hex")
	assert.ErrorIs(t, err, model.ErrInvalidGameType)
	_, err = r.Lookup("")
	assert.ErrorIs(t, err, model.ErrInvalidGameType)
}

func TestUnregister(t *testing.T) {
	r := NewDefaultRegistry()
	assert.True(t, r.Unregister(model.GameChess))
	assert.False(t, r.Unregister(model.GameChess))
	assert.NotContains(t, r.Types(), model.GameChess)
	assert.Len(t, r.List(), r.Count())
}

// TestRegistryListMatchesTypesProperty checks that List and Types agree
// after any sequence of registrations and removals.
func TestRegistryListMatchesTypesProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry()
		names := []model.GameType{"a", "b", "c", "d", "e"}

		ops := rapid.IntRange(0, 30).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			gt := rapid.SampledFrom(names).Draw(rt, "type")
			if rapid.Bool().Draw(rt, "register") {
				_ = r.Register(Descriptor{Type: gt, Name: string(gt)})
			} else {
				r.Unregister(gt)
			}
		}

		list, types := r.List(), r.Types()
		if len(list) != len(types) || len(types) != r.Count() {
			rt.Fatalf("size mismatch: list=%d types=%d count=%d", len(list), len(types), r.Count())
		}
		for i := range list {
			if list[i].Type != types[i] {
				rt.Fatalf("order mismatch at %d: %s vs %s", i, list[i].Type, types[i])
			}
		}
	})
}
