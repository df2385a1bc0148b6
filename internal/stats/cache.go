package stats

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"game-session-hub/internal/model"
	"game-session-hub/internal/pkg/kv"
	"game-session-hub/internal/pkg/lock"
)

// CacheKey is the kv key holding the local AI tallies.
const CacheKey = "ai-game-stats"

// LocalCache keeps AI tallies in a kv store as one JSON object keyed
// "<gameType>_<difficulty>". Missing or corrupt data reads as empty.
type LocalCache struct {
	kv    kv.Store
	locks *lock.KeyLock
}

// NewLocalCache creates a cache over s.
func NewLocalCache(s kv.Store) *LocalCache {
	return &LocalCache{kv: s, locks: lock.New()}
}

func tallyKey(gameType model.GameType, d model.Difficulty) string {
	return string(gameType) + "_" + string(d)
}

// splitTallyKey reverses tallyKey. Game types may contain underscores, so
// the difficulty is taken from the last segment.
func splitTallyKey(key string) (model.GameType, model.Difficulty, bool) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 {
		return "", "", false
	}
	d, err := model.ParseDifficulty(key[i+1:])
	if err != nil {
		return "", "", false
	}
	return model.GameType(key[:i]), d, true
}

func (c *LocalCache) load(ctx context.Context) map[string]model.Tally {
	tallies := make(map[string]model.Tally)
	raw, err := c.kv.Get(ctx, CacheKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read local stats cache")
		}
		return tallies
	}
	if err := json.Unmarshal(raw, &tallies); err != nil {
		log.Warn().Err(err).Msg("Local stats cache is corrupt, starting empty")
		return make(map[string]model.Tally)
	}
	return tallies
}

// Record adds one result. A kv write failure is logged and swallowed.
func (c *LocalCache) Record(ctx context.Context, gameType model.GameType, d model.Difficulty, r model.GameResult) {
	_ = c.locks.WithLock(CacheKey, func() error {
		tallies := c.load(ctx)
		key := tallyKey(gameType, d)
		t := tallies[key]
		t.Add(r)
		tallies[key] = t

		raw, err := json.Marshal(tallies)
		if err != nil {
			return err
		}
		if err := c.kv.Set(ctx, CacheKey, raw); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to write local stats cache")
		}
		return nil
	})
}

// Tally returns the tally for one game type and difficulty.
func (c *LocalCache) Tally(ctx context.Context, gameType model.GameType, d model.Difficulty) model.Tally {
	return c.load(ctx)[tallyKey(gameType, d)]
}

// TotalGames sums every tally. When gameType is non-empty only that game
// type is counted.
func (c *LocalCache) TotalGames(ctx context.Context, gameType model.GameType) int64 {
	var total int64
	for key, t := range c.load(ctx) {
		gt, _, ok := splitTallyKey(key)
		if !ok || (gameType != "" && gt != gameType) {
			continue
		}
		total += t.Total()
	}
	return total
}

// Reset clears the cache.
func (c *LocalCache) Reset(ctx context.Context) error {
	return c.locks.WithLock(CacheKey, func() error {
		return c.kv.Delete(ctx, CacheKey)
	})
}
