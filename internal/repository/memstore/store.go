// Package memstore keeps token records and operators in process memory.
// It serves single-instance development runs and tests; state is lost on restart.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

// Store implements TokenRepository over a map guarded by a mutex.
type Store struct {
	mu     sync.Mutex
	tokens map[string]model.Token
}

// New returns an empty store.
func New() *Store { return &Store{tokens: map[string]model.Token{}} }

// Exists reports whether the id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[id]
	return ok, nil
}

// CreateIfAbsent stores t unless the id is taken.
func (s *Store) CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return model.AlreadyExists, nil
	}
	t.RedeemedAt = nil
	s.tokens[t.ID] = t
	return model.Created, nil
}

// MarkRedeemed sets RedeemedAt if unset.
func (s *Store) MarkRedeemed(ctx context.Context, id string, at time.Time) (model.RedeemResult, error) {
	if err := ctx.Err(); err != nil {
		return model.RedeemResult{}, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return model.RedeemResult{Status: model.NotFound}, nil
	}
	if t.RedeemedAt != nil {
		return model.RedeemResult{Status: model.AlreadyRedeemed, RedeemedAt: *t.RedeemedAt}, nil
	}
	ts := at.UTC()
	t.RedeemedAt = &ts
	s.tokens[id] = t
	return model.RedeemResult{Status: model.Redeemed, RedeemedAt: ts}, nil
}

// Get returns a copy of the stored token.
func (s *Store) Get(ctx context.Context, id string) (*model.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if t.RedeemedAt != nil {
		at := *t.RedeemedAt
		t.RedeemedAt = &at
	}
	return &t, nil
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Operators is an operator directory held in memory, typically seeded from configuration.
type Operators struct {
	mu     sync.RWMutex
	byName map[string]model.Operator
}

// NewOperators returns a directory holding ops.
func NewOperators(ops ...model.Operator) *Operators {
	d := &Operators{byName: make(map[string]model.Operator, len(ops))}
	for _, o := range ops {
		d.byName[o.Username] = o
	}
	return d
}

// Create adds an operator.
func (d *Operators) Create(_ context.Context, o *model.Operator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[o.Username]; ok {
		return errs.ErrAlreadyExists
	}
	d.byName[o.Username] = *o
	return nil
}

// GetByUsername looks up an operator.
func (d *Operators) GetByUsername(_ context.Context, username string) (*model.Operator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &o, nil
}

func unavailable(err error) error {
	return fmt.Errorf("memstore: %w: %w", errs.ErrStoreUnavailable, err)
}
