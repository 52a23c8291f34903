package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/repository"
	"github.com/and161185/foodtoken/internal/repository/memstore"
)

// flakyStore wraps memstore and injects failures per call.
type flakyStore struct {
	*memstore.Store

	mu sync.Mutex
	// failCreate returns an error for the n-th CreateIfAbsent call (1-based) when set.
	failCreate func(n int, t model.Token) error
	// landAnyway persists the record even when failCreate fired (lost ack).
	landAnyway  bool
	existsErr   error
	getErr      error
	createCalls int
	existsCalls int
}

var _ repository.TokenRepository = (*flakyStore)(nil)

func newFlaky() *flakyStore { return &flakyStore{Store: memstore.New()} }

func (f *flakyStore) CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	fail := f.failCreate
	land := f.landAnyway
	f.mu.Unlock()
	if fail != nil {
		if err := fail(n, t); err != nil {
			if land {
				_, _ = f.Store.CreateIfAbsent(ctx, t)
			}
			return 0, err
		}
	}
	return f.Store.CreateIfAbsent(ctx, t)
}

func (f *flakyStore) Exists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.existsCalls++
	err := f.existsErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.Exists(ctx, id)
}

var errDown = fmt.Errorf("fake: %w: connection refused", errs.ErrStoreUnavailable)

// fixedGen returns ids from a list, then repeats the last one.
type fixedGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (g *fixedGen) Generate(model.TokenContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.n
	if i >= len(g.ids) {
		i = len(g.ids) - 1
	}
	g.n++
	return g.ids[i], nil
}

func fixedNow() time.Time { return time.Date(2025, 10, 20, 18, 30, 0, 0, time.UTC) }

func (f *flakyStore) Get(ctx context.Context, id string) (*model.Token, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, id)
}
