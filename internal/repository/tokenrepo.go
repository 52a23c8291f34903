// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/foodtoken/internal/model"
)

// TokenRepository is the record store contract required by the token lifecycle.
//
// Every method fails with errs.ErrStoreUnavailable when the backend cannot be reached;
// the outcome of the call is then unknown. Conditional operations are atomic in the
// backend itself, never emulated by a read followed by a write.
type TokenRepository interface {
	// Exists reports whether a record with the id has been durably created.
	Exists(ctx context.Context, id string) (bool, error)

	// CreateIfAbsent stores t only if no record with t.ID exists.
	CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error)

	// MarkRedeemed sets redeemed_at to at only if the record is unredeemed.
	// Concurrent callers on one id resolve to exactly one model.Redeemed.
	MarkRedeemed(ctx context.Context, id string, at time.Time) (model.RedeemResult, error)

	// Get loads a record for audit display. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*model.Token, error)
}
