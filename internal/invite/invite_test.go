package invite

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/model"
)

func TestIssueAndParse(t *testing.T) {
	i := NewIssuer("s3cret", time.Hour)
	room := model.Room{ID: "room-1", GameType: model.GameOmok, IsPrivate: true}

	token, expires, err := i.Issue(room)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := i.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "room-1", claims.RoomID)
	assert.Equal(t, model.GameOmok, claims.GameType)
}

func TestParse_Rejects(t *testing.T) {
	i := NewIssuer("s3cret", time.Hour)
	token, _, err := i.Issue(model.Room{ID: "room-1", GameType: model.GameChess})
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalid, "wrong secret")

	_, err = i.Parse(token + "x")
	assert.ErrorIs(t, err, ErrInvalid, "tampered")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RoomID: "room-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = i.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalid, "alg none")
}

func TestParse_Expired(t *testing.T) {
	i := NewIssuer("s3cret", time.Minute)
	issuedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	i.now = func() time.Time { return issuedAt }
	token, _, err := i.Issue(model.Room{ID: "room-1", GameType: model.GameOmok})
	require.NoError(t, err)

	i.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = i.Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDisabledWithoutSecret(t *testing.T) {
	i := NewIssuer("", 0)
	assert.False(t, i.Enabled())
	_, _, err := i.Issue(model.Room{ID: "r"})
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = i.Parse("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}
