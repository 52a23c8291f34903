package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/metrics"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/repository"
)

// MaxTokenIDLen bounds ids accepted for redemption and lookup.
const MaxTokenIDLen = 256

// RedeemService performs one-time redemption of token records.
type RedeemService struct {
	store repository.TokenRepository
	log   *zap.Logger
	met   *metrics.Metrics
	now   func() time.Time
}

// NewRedeemService constructs RedeemService. met may be nil.
func NewRedeemService(store repository.TokenRepository, log *zap.Logger, met *metrics.Metrics) *RedeemService {
	return &RedeemService{store: store, log: log, met: met, now: time.Now}
}

// Redeem marks the token redeemed. Losing a concurrent race yields
// model.AlreadyRedeemed, never an error. Store failures are returned as is.
func (s *RedeemService) Redeem(ctx context.Context, id string) (model.RedeemResult, error) {
	if err := ValidateTokenID(id); err != nil {
		return model.RedeemResult{}, err
	}
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		return model.RedeemResult{}, err
	}
	if !ok {
		s.record(id, model.RedeemResult{Status: model.NotFound})
		return model.RedeemResult{Status: model.NotFound}, nil
	}
	res, err := s.store.MarkRedeemed(ctx, id, s.now().UTC())
	if err != nil {
		return model.RedeemResult{}, err
	}
	s.record(id, res)
	return res, nil
}

// Get returns the record for audit display.
func (s *RedeemService) Get(ctx context.Context, id string) (*model.Token, error) {
	if err := ValidateTokenID(id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

func (s *RedeemService) record(id string, res model.RedeemResult) {
	s.met.Redemption(string(res.Status))
	s.log.Info("redeem", zap.String("token_id", id), zap.String("status", string(res.Status)))
}

// ValidateTokenID rejects ids that can never have been issued by shape alone.
// Anything else goes to the store and may come back NotFound.
func ValidateTokenID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty token id", errs.ErrValidation)
	}
	if len(id) > MaxTokenIDLen {
		return fmt.Errorf("%w: token id too long", errs.ErrValidation)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: token id has whitespace", errs.ErrValidation)
	}
	return nil
}
