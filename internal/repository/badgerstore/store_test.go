package badgerstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func token(id string) model.Token {
	return model.Token{
		ID:        id,
		BatchID:   uuid.Must(uuid.NewV4()),
		Context:   model.TokenContext{Event: "Fest", Day: "2", Block: "B1", Flat: "7", Seq: 2},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tok := token("t1")

	out, err := s.CreateIfAbsent(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, model.Created, out)

	out, err = s.CreateIfAbsent(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, model.AlreadyExists, out)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, tok.Context, got.Context)
	require.Equal(t, tok.BatchID, got.BatchID)
	require.Equal(t, model.StateUnredeemed, got.State())

	ok, err := s.Exists(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Get(ctx, "t2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_ConcurrentCreate_OneWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	const n = 8
	outs := make([]model.CreateOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.CreateIfAbsent(ctx, token("dup"))
			if err != nil {
				t.Errorf("CreateIfAbsent: %v", err)
				return
			}
			outs[i] = out
		}(i)
	}
	wg.Wait()

	created := 0
	for _, o := range outs {
		if o == model.Created {
			created++
		}
	}
	require.Equal(t, 1, created)
}

func TestStore_MarkRedeemed_Concurrent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.CreateIfAbsent(ctx, token("race"))
	require.NoError(t, err)

	const n = 10
	statuses := make([]model.RedeemStatus, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.MarkRedeemed(ctx, "race", time.Now())
			if err != nil {
				t.Errorf("MarkRedeemed: %v", err)
				return
			}
			statuses[i] = res.Status
		}(i)
	}
	wg.Wait()

	counts := map[model.RedeemStatus]int{}
	for _, st := range statuses {
		counts[st]++
	}
	require.Equal(t, 1, counts[model.Redeemed])
	require.Equal(t, n-1, counts[model.AlreadyRedeemed])

	res, err := s.MarkRedeemed(ctx, "missing", time.Now())
	require.NoError(t, err)
	require.Equal(t, model.NotFound, res.Status)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateIfAbsent(ctx, token("t1"))
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	_, err = s.Exists(ctx, "t1")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
}
