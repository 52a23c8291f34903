// Package redisstore implements the token record store on Redis.
//
// Each token is a hash at <prefix>token:<id>. Conditional create and redemption run as
// Lua scripts, which Redis executes atomically.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "foodtoken:"

// createScript writes the hash only if the key is absent. Returns 1 on create, 0 otherwise.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// redeemScript sets redeemed_at only when unset.
// Returns {"redeemed", at}, {"already_redeemed", prev} or {"not_found", ""}.
var redeemScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found', ''}
end
local prev = redis.call('HGET', KEYS[1], 'redeemed_at')
if prev and prev ~= '' then
  return {'already_redeemed', prev}
end
redis.call('HSET', KEYS[1], 'redeemed_at', ARGV[1])
return {'redeemed', ARGV[1]}
`)

// Store implements TokenRepository using Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) key(id string) string { return s.prefix + "token:" + id }

// Exists reports whether the token hash is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n == 1, nil
}

// CreateIfAbsent stores the token hash unless the key exists.
func (s *Store) CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error) {
	c := t.Context
	args := []any{
		"id", t.ID,
		"batch_id", t.BatchID.String(),
		"event", c.Event,
		"day", c.Day,
		"block", c.Block,
		"flat", c.Flat,
		"seq", c.Seq,
		"created_at", formatTime(t.CreatedAt),
		"redeemed_at", "",
	}
	n, err := createScript.Run(ctx, s.rdb, []string{s.key(t.ID)}, args...).Int()
	if err != nil {
		return 0, unavailable("create", err)
	}
	if n == 0 {
		return model.AlreadyExists, nil
	}
	return model.Created, nil
}

// MarkRedeemed runs the redemption script.
func (s *Store) MarkRedeemed(ctx context.Context, id string, at time.Time) (model.RedeemResult, error) {
	vals, err := redeemScript.Run(ctx, s.rdb, []string{s.key(id)}, formatTime(at)).StringSlice()
	if err != nil {
		return model.RedeemResult{}, unavailable("redeem", err)
	}
	if len(vals) != 2 {
		return model.RedeemResult{}, unavailable("redeem", fmt.Errorf("unexpected reply %q", vals))
	}
	status := model.RedeemStatus(vals[0])
	switch status {
	case model.NotFound:
		return model.RedeemResult{Status: model.NotFound}, nil
	case model.Redeemed, model.AlreadyRedeemed:
		ts, err := parseTime(vals[1])
		if err != nil {
			return model.RedeemResult{}, fmt.Errorf("redis redeem: bad redeemed_at %q: %w", vals[1], err)
		}
		return model.RedeemResult{Status: status, RedeemedAt: ts}, nil
	default:
		return model.RedeemResult{}, unavailable("redeem", fmt.Errorf("unexpected status %q", vals[0]))
	}
}

// Get loads the token hash.
func (s *Store) Get(ctx context.Context, id string) (*model.Token, error) {
	h, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(h) == 0 {
		return nil, errs.ErrNotFound
	}
	return fromHash(h)
}

func fromHash(h map[string]string) (*model.Token, error) {
	seq, err := strconv.Atoi(h["seq"])
	if err != nil {
		return nil, fmt.Errorf("redis: bad seq %q: %w", h["seq"], err)
	}
	batch, err := uuid.FromString(h["batch_id"])
	if err != nil {
		return nil, fmt.Errorf("redis: bad batch_id %q: %w", h["batch_id"], err)
	}
	created, err := parseTime(h["created_at"])
	if err != nil {
		return nil, fmt.Errorf("redis: bad created_at %q: %w", h["created_at"], err)
	}
	t := &model.Token{
		ID:      h["id"],
		BatchID: batch,
		Context: model.TokenContext{
			Event: h["event"], Day: h["day"], Block: h["block"], Flat: h["flat"], Seq: seq,
		},
		CreatedAt: created,
	}
	if v := h["redeemed_at"]; v != "" {
		at, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("redis: bad redeemed_at %q: %w", v, err)
		}
		t.RedeemedAt = &at
	}
	return t, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func unavailable(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		err = fmt.Errorf("empty reply")
	}
	return fmt.Errorf("redis %s: %w: %w", op, errs.ErrStoreUnavailable, err)
}
