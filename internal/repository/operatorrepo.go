package repository

import (
	"context"

	"github.com/and161185/foodtoken/internal/model"
)

// OperatorRepository provides access to volunteers allowed to redeem tokens.
type OperatorRepository interface {
	// Create inserts a new operator. Returns errs.ErrAlreadyExists on a taken username.
	Create(ctx context.Context, o *model.Operator) error
	// GetByUsername loads an operator by username.
	GetByUsername(ctx context.Context, username string) (*model.Operator, error)
}
