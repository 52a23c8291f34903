// Package badgerstore implements the token record store on an embedded Badger database.
//
// Badger offers no conditional put, so each conditional operation runs as a read-write
// transaction with conflict detection enabled: a transaction that read a key another
// transaction committed in the meantime fails with badger.ErrConflict and is replayed
// against the new state.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

// maxConflictRetries bounds replays of a conflicting transaction.
const maxConflictRetries = 16

var keyPrefix = []byte("token/")

// record is the stored JSON form of a token.
type record struct {
	ID         string     `json:"id"`
	BatchID    uuid.UUID  `json:"batch_id"`
	Event      string     `json:"event"`
	Day        string     `json:"day"`
	Block      string     `json:"block"`
	Flat       string     `json:"flat"`
	Seq        int        `json:"seq"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store implements TokenRepository using Badger.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a database in dir. An empty dir opens an in-memory database.
func Open(dir string, log *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{log: log.Sugar()}
	opts.DetectConflicts = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger: %w: closed", errs.ErrStoreUnavailable)
	}
	return nil
}

func key(id string) []byte { return append(append([]byte(nil), keyPrefix...), id...) }

// Exists reports whether the token key is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("exists", err)
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(id))
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, unavailable("exists", err)
	}
	return found, nil
}

// CreateIfAbsent writes the token unless the key exists.
func (s *Store) CreateIfAbsent(ctx context.Context, t model.Token) (model.CreateOutcome, error) {
	c := t.Context
	val, err := json.Marshal(record{
		ID: t.ID, BatchID: t.BatchID,
		Event: c.Event, Day: c.Day, Block: c.Block, Flat: c.Flat, Seq: c.Seq,
		CreatedAt: t.CreatedAt.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("badger create: encode: %w", err)
	}

	var out model.CreateOutcome
	err = s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key(t.ID))
		switch {
		case err == nil:
			out = model.AlreadyExists
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		out = model.Created
		return txn.Set(key(t.ID), val)
	})
	if err != nil {
		return 0, unavailable("create", err)
	}
	return out, nil
}

// MarkRedeemed sets redeemed_at inside a conflict-checked transaction.
func (s *Store) MarkRedeemed(ctx context.Context, id string, at time.Time) (model.RedeemResult, error) {
	var res model.RedeemResult
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := get(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			res = model.RedeemResult{Status: model.NotFound}
			return nil
		}
		if err != nil {
			return err
		}
		if rec.RedeemedAt != nil {
			res = model.RedeemResult{Status: model.AlreadyRedeemed, RedeemedAt: *rec.RedeemedAt}
			return nil
		}
		ts := at.UTC()
		rec.RedeemedAt = &ts
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		res = model.RedeemResult{Status: model.Redeemed, RedeemedAt: ts}
		return txn.Set(key(id), val)
	})
	if err != nil {
		return model.RedeemResult{}, unavailable("redeem", err)
	}
	return res, nil
}

// Get loads a token.
func (s *Store) Get(ctx context.Context, id string) (*model.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = get(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return &model.Token{
		ID:      rec.ID,
		BatchID: rec.BatchID,
		Context: model.TokenContext{
			Event: rec.Event, Day: rec.Day, Block: rec.Block, Flat: rec.Flat, Seq: rec.Seq,
		},
		RedeemedAt: rec.RedeemedAt,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// update runs fn in a read-write transaction, replaying it on commit conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func get(txn *badger.Txn, id string) (*record, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
		return nil, err
	}
	return &rec, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("badger %s: %w: %w", op, errs.ErrStoreUnavailable, err)
}

// badgerLogger routes badger's internal logging to zap.
type badgerLogger struct{ log *zap.SugaredLogger }

func (l *badgerLogger) Errorf(f string, v ...any)   { l.log.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...any) { l.log.Warnf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...any)    { l.log.Debugf(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...any)   { l.log.Debugf(f, v...) }
