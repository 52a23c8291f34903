package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleToken() model.Token {
	return model.Token{
		ID:        "Fest_Day1_A1-101_T1_01J9ZQ4N6T8G0D4Y5V7K2M3P8R",
		BatchID:   uuid.Must(uuid.NewV4()),
		Context:   model.TokenContext{Event: "Fest", Day: "1", Block: "A1", Flat: "101", Seq: 1},
		CreatedAt: time.Date(2025, 9, 30, 10, 0, 0, 0, time.UTC),
	}
}

const (
	insertSQL = `INSERT INTO tokens \(id, batch_id, event, day, block, flat, seq, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\) ON CONFLICT \(id\) DO NOTHING`
	redeemSQL = `UPDATE tokens SET redeemed_at=\$2 WHERE id=\$1 AND redeemed_at IS NULL RETURNING redeemed_at`
	lookupSQL = `SELECT redeemed_at FROM tokens WHERE id=\$1`
)

func TestTokenRepo_Exists(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM tokens WHERE id=\$1\)`).
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := r.Exists(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM tokens WHERE id=\$1\)`).
		WithArgs("b").
		WillReturnError(errors.New("conn reset"))
	_, err = r.Exists(ctx, "b")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_CreateIfAbsent_Created(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	tok := sampleToken()

	mock.ExpectExec(insertSQL).
		WithArgs(tok.ID, tok.BatchID, "Fest", "1", "A1", "101", 1, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	out, err := r.CreateIfAbsent(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, model.Created, out)
}

func TestTokenRepo_CreateIfAbsent_AlreadyExists(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	tok := sampleToken()

	mock.ExpectExec(insertSQL).
		WithArgs(tok.ID, tok.BatchID, "Fest", "1", "A1", "101", 1, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	out, err := r.CreateIfAbsent(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, model.AlreadyExists, out)
}

func TestTokenRepo_CreateIfAbsent_ExecErr(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	tok := sampleToken()

	mock.ExpectExec(insertSQL).
		WithArgs(tok.ID, tok.BatchID, "Fest", "1", "A1", "101", 1, tok.CreatedAt).
		WillReturnError(context.DeadlineExceeded)

	_, err := r.CreateIfAbsent(context.Background(), tok)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenRepo_MarkRedeemed_Winner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	at := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(redeemSQL).
		WithArgs("tok", at).
		WillReturnRows(pgxmock.NewRows([]string{"redeemed_at"}).AddRow(&at))

	res, err := r.MarkRedeemed(context.Background(), "tok", at)
	require.NoError(t, err)
	require.Equal(t, model.Redeemed, res.Status)
	require.True(t, at.Equal(res.RedeemedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_MarkRedeemed_AlreadyRedeemed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	first := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	at := first.Add(time.Minute)

	mock.ExpectQuery(redeemSQL).WithArgs("tok", at).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(lookupSQL).
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows([]string{"redeemed_at"}).AddRow(&first))

	res, err := r.MarkRedeemed(context.Background(), "tok", at)
	require.NoError(t, err)
	require.Equal(t, model.AlreadyRedeemed, res.Status)
	require.True(t, first.Equal(res.RedeemedAt))
}

func TestTokenRepo_MarkRedeemed_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	at := time.Now().UTC()

	mock.ExpectQuery(redeemSQL).WithArgs("nope", at).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(lookupSQL).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	res, err := r.MarkRedeemed(context.Background(), "nope", at)
	require.NoError(t, err)
	require.Equal(t, model.NotFound, res.Status)
	require.True(t, res.RedeemedAt.IsZero())
}

func TestTokenRepo_MarkRedeemed_StoreErrors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	at := time.Now().UTC()

	mock.ExpectQuery(redeemSQL).WithArgs("tok", at).WillReturnError(errors.New("broken pipe"))
	_, err := r.MarkRedeemed(context.Background(), "tok", at)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)

	mock.ExpectQuery(redeemSQL).WithArgs("tok", at).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(lookupSQL).WithArgs("tok").WillReturnError(errors.New("broken pipe"))
	_, err = r.MarkRedeemed(context.Background(), "tok", at)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestTokenRepo_Get_OK_And_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	tok := sampleToken()
	at := tok.CreatedAt.Add(time.Hour)

	cols := []string{"id", "batch_id", "event", "day", "block", "flat", "seq", "redeemed_at", "created_at"}
	mock.ExpectQuery(`SELECT id, batch_id, event, day, block, flat, seq, redeemed_at, created_at FROM tokens WHERE id=\$1`).
		WithArgs(tok.ID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(tok.ID, tok.BatchID, "Fest", "1", "A1", "101", 1, &at, tok.CreatedAt))

	got, err := r.Get(context.Background(), tok.ID)
	require.NoError(t, err)
	require.Equal(t, tok.BatchID, got.BatchID)
	require.Equal(t, tok.Context, got.Context)
	require.Equal(t, model.StateRedeemed, got.State())

	mock.ExpectQuery(`SELECT id, batch_id, event, day, block, flat, seq, redeemed_at, created_at FROM tokens WHERE id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
