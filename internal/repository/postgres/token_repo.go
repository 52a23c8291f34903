package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Exists reports whether a token row is present.
func (r *TokenRepo) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM tokens WHERE id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

// CreateIfAbsent inserts the token unless the id is taken. The primary key makes it atomic.
func (r *TokenRepo) CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error) {
	const q = `
INSERT INTO tokens (id, batch_id, event, day, block, flat, seq, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`
	c := t.Context
	tag, err := r.db.Pool.Exec(ctx, q, t.ID, t.BatchID, c.Event, c.Day, c.Block, c.Flat, c.Seq, t.CreatedAt)
	if err != nil {
		return 0, unavailable("create", err)
	}
	if tag.RowsAffected() == 0 {
		return model.AlreadyExists, nil
	}
	return model.Created, nil
}

// MarkRedeemed sets redeemed_at in one conditional UPDATE. Losers of a race match no row
// and are classified by a follow-up read; redeemed_at never changes once set.
func (r *TokenRepo) MarkRedeemed(ctx context.Context, id string, at time.Time) (model.RedeemResult, error) {
	const upd = `UPDATE tokens SET redeemed_at=$2 WHERE id=$1 AND redeemed_at IS NULL RETURNING redeemed_at`
	const sel = `SELECT redeemed_at FROM tokens WHERE id=$1`

	var got *time.Time
	err := r.db.Pool.QueryRow(ctx, upd, id, at).Scan(&got)
	switch {
	case err == nil:
		return model.RedeemResult{Status: model.Redeemed, RedeemedAt: deref(got, at)}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return model.RedeemResult{}, unavailable("redeem", err)
	}

	var prev *time.Time
	if err := r.db.Pool.QueryRow(ctx, sel, id).Scan(&prev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RedeemResult{Status: model.NotFound}, nil
		}
		return model.RedeemResult{}, unavailable("redeem lookup", err)
	}
	return model.RedeemResult{Status: model.AlreadyRedeemed, RedeemedAt: deref(prev, time.Time{})}, nil
}

// Get returns a single token by id.
func (r *TokenRepo) Get(ctx context.Context, id string) (*model.Token, error) {
	const q = `
SELECT id, batch_id, event, day, block, flat, seq, redeemed_at, created_at
FROM tokens WHERE id=$1`
	var t model.Token
	c := &t.Context
	err := r.db.Pool.QueryRow(ctx, q, id).
		Scan(&t.ID, &t.BatchID, &c.Event, &c.Day, &c.Block, &c.Flat, &c.Seq, &t.RedeemedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return &t, nil
}

func deref(p *time.Time, fallback time.Time) time.Time {
	if p == nil {
		return fallback
	}
	return p.UTC()
}
