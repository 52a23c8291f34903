package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

func TestOperatorRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOperatorRepo(db)
	ctx := context.Background()
	o := &model.Operator{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "gate1",
		PwdHash:  []byte("h"),
		Salt:     []byte("s"),
	}

	mock.ExpectExec(`INSERT INTO operators \(id, username, pwd_hash, salt\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(o.ID, o.Username, o.PwdHash, o.Salt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, o))

	mock.ExpectExec(`INSERT INTO operators \(id, username, pwd_hash, salt\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(o.ID, o.Username, o.PwdHash, o.Salt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, o), errs.ErrAlreadyExists)

	mock.ExpectExec(`INSERT INTO operators`).
		WithArgs(o.ID, o.Username, o.PwdHash, o.Salt).
		WillReturnError(errors.New("down"))
	require.ErrorIs(t, r.Create(ctx, o), errs.ErrStoreUnavailable)
}

func TestOperatorRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOperatorRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt, created_at FROM operators WHERE username=\$1`).
		WithArgs("gate1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "pwd_hash", "salt", "created_at"}).
			AddRow(id, "gate1", []byte("h"), []byte("s"), now))
	o, err := r.GetByUsername(ctx, "gate1")
	require.NoError(t, err)
	require.Equal(t, id, o.ID)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt, created_at FROM operators WHERE username=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
