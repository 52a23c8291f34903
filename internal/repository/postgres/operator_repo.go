package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
)

// OperatorRepo implements OperatorRepository using PostgreSQL.
type OperatorRepo struct{ db *DB }

// NewOperatorRepo constructs an operator repository.
func NewOperatorRepo(db *DB) *OperatorRepo { return &OperatorRepo{db: db} }

// Create inserts a new operator row.
func (r *OperatorRepo) Create(ctx context.Context, o *model.Operator) error {
	const q = `
INSERT INTO operators (id, username, pwd_hash, salt)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, o.ID, o.Username, o.PwdHash, o.Salt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return unavailable("create operator", err)
	}
	return nil
}

// GetByUsername selects an operator by username.
func (r *OperatorRepo) GetByUsername(ctx context.Context, username string) (*model.Operator, error) {
	const q = `
SELECT id, username, pwd_hash, salt, created_at
FROM operators WHERE username=$1`
	row := r.db.Pool.QueryRow(ctx, q, username)
	var o model.Operator
	if err := row.Scan(&o.ID, &o.Username, &o.PwdHash, &o.Salt, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, unavailable("get operator", err)
	}
	return &o, nil
}
