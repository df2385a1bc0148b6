// Package invite issues and verifies signed links to private rooms.
package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"game-session-hub/internal/model"
)

const issuer = "game-session-hub"

var (
	// ErrNoSecret is returned when invites are used without a signing secret.
	ErrNoSecret = errors.New("invite secret not configured")
	// ErrInvalid is returned for tokens that fail verification.
	ErrInvalid = errors.New("invalid invite")
)

// Claims is the signed invite body.
type Claims struct {
	RoomID   string         `json:"room_id"`
	GameType model.GameType `json:"game_type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies invites with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl defaults to 24 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (i *Issuer) Enabled() bool {
	return len(i.secret) > 0
}

// Issue signs an invite to room.
func (i *Issuer) Issue(room model.Room) (string, time.Time, error) {
	if !i.Enabled() {
		return "", time.Time{}, ErrNoSecret
	}
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		RoomID:   room.ID,
		GameType: room.GameType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   room.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign invite: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies token and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	if !i.Enabled() {
		return nil, ErrNoSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.RoomID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
