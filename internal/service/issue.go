// Package service contains application services for issuance, redemption,
// delivery and operator authentication.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/metrics"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/repository"
	"github.com/and161185/foodtoken/internal/tokenid"
)

// IDGenerator produces a fresh token id for a context on every call.
type IDGenerator interface {
	Generate(c model.TokenContext) (string, error)
}

// IssueLimits bounds a single issuance request.
type IssueLimits struct {
	MaxAttempts int // id generations per slot before giving up on collisions
	MaxPerDay   int
	MaxTotal    int
}

// MaxPaymentNoteLen bounds the free-text payment reference.
const MaxPaymentNoteLen = 80

// DefaultIssueLimits are applied to zero fields.
var DefaultIssueLimits = IssueLimits{MaxAttempts: 3, MaxPerDay: 50, MaxTotal: 200}

// Failure reasons reported to metrics.
const (
	reasonUnavailable = "store_unavailable"
	reasonExhausted   = "exhausted"
)

// IssueService creates token records for issuance batches.
type IssueService struct {
	store  repository.TokenRepository
	gen    IDGenerator
	limits IssueLimits
	log    *zap.Logger
	met    *metrics.Metrics
	now    func() time.Time
}

// NewIssueService constructs IssueService. met may be nil.
func NewIssueService(store repository.TokenRepository, gen IDGenerator, limits IssueLimits, log *zap.Logger, met *metrics.Metrics) *IssueService {
	if limits.MaxAttempts <= 0 {
		limits.MaxAttempts = DefaultIssueLimits.MaxAttempts
	}
	if limits.MaxPerDay <= 0 {
		limits.MaxPerDay = DefaultIssueLimits.MaxPerDay
	}
	if limits.MaxTotal <= 0 {
		limits.MaxTotal = DefaultIssueLimits.MaxTotal
	}
	return &IssueService{store: store, gen: gen, limits: limits, log: log, met: met, now: time.Now}
}

// Issue creates every requested token, day by day in the supplied order.
//
// A slot that fails with errs.ErrStoreUnavailable is reported in the result and
// issuance moves on. A slot that keeps colliding aborts the batch with
// errs.ErrIssuanceExhausted; the result still lists what was created before.
func (s *IssueService) Issue(ctx context.Context, req model.IssueRequest) (model.IssueResult, error) {
	if err := s.validate(req); err != nil {
		return model.IssueResult{}, err
	}
	batchID, err := uuid.NewV4()
	if err != nil {
		return model.IssueResult{}, fmt.Errorf("batch id: %w", err)
	}

	res := model.IssueResult{BatchID: batchID}
	for _, d := range req.Days {
		for seq := 1; seq <= d.Count; seq++ {
			c := req.Context(d.Day, seq)
			tok, attempted, err := s.createSlot(ctx, batchID, c)
			if err != nil {
				res.Failed = append(res.Failed, model.FailedToken{Day: d.Day, Seq: seq, TokenID: attempted, Err: err})
				if errors.Is(err, errs.ErrStoreUnavailable) {
					continue
				}
				s.log.Error("issuance aborted",
					zap.String("batch_id", batchID.String()),
					zap.String("day", d.Day), zap.Int("seq", seq), zap.Error(err))
				return res, err
			}
			res.Tokens = append(res.Tokens, tok)
		}
	}
	s.logResult("issued", res)
	return res, nil
}

// Resume retries failed slots of an earlier batch.
//
// A slot whose previous attempt may have landed is checked with Exists first and
// retried with the same id, so an unknown outcome never yields a second record.
// Repeated slots or ids are rejected; a landed id that was already redeemed is
// reported failed with errs.ErrAlreadyExists instead of being handed out again.
func (s *IssueService) Resume(ctx context.Context, req model.ResumeRequest) (model.IssueResult, error) {
	base := model.IssueRequest{Event: req.Event, Block: req.Block, Flat: req.Flat, Email: req.Email}
	if err := validateContext(base); err != nil {
		return model.IssueResult{}, err
	}
	if len(req.Failed) == 0 {
		return model.IssueResult{}, fmt.Errorf("%w: no slots to retry", errs.ErrValidation)
	}
	if len(req.Failed) > s.limits.MaxTotal {
		return model.IssueResult{}, fmt.Errorf("%w: too many slots (%d > %d)", errs.ErrValidation, len(req.Failed), s.limits.MaxTotal)
	}
	type slot struct {
		day string
		seq int
	}
	slots := make(map[slot]struct{}, len(req.Failed))
	ids := make(map[string]struct{}, len(req.Failed))
	for i, f := range req.Failed {
		if f.Day == "" || f.Seq <= 0 {
			return model.IssueResult{}, fmt.Errorf("%w: slot[%d] needs day and seq", errs.ErrValidation, i)
		}
		if _, dup := slots[slot{f.Day, f.Seq}]; dup {
			return model.IssueResult{}, fmt.Errorf("%w: slot[%d] day %s seq %d repeated", errs.ErrValidation, i, f.Day, f.Seq)
		}
		slots[slot{f.Day, f.Seq}] = struct{}{}
		if f.TokenID == "" {
			continue
		}
		if !strings.HasPrefix(f.TokenID, tokenid.Prefix(base.Context(f.Day, f.Seq))) {
			return model.IssueResult{}, fmt.Errorf("%w: slot[%d] id does not belong to its context", errs.ErrValidation, i)
		}
		if _, dup := ids[f.TokenID]; dup {
			return model.IssueResult{}, fmt.Errorf("%w: slot[%d] token id repeated", errs.ErrValidation, i)
		}
		ids[f.TokenID] = struct{}{}
	}

	batchID := req.BatchID
	if batchID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return model.IssueResult{}, fmt.Errorf("batch id: %w", err)
		}
		batchID = id
	}

	res := model.IssueResult{BatchID: batchID}
	for _, f := range req.Failed {
		c := base.Context(f.Day, f.Seq)
		var (
			tok       model.Token
			attempted = f.TokenID
			err       error
		)
		if f.TokenID != "" {
			tok, err = s.recoverSlot(ctx, batchID, c, f.TokenID)
		} else {
			tok, attempted, err = s.createSlot(ctx, batchID, c)
		}
		if err != nil {
			res.Failed = append(res.Failed, model.FailedToken{Day: f.Day, Seq: f.Seq, TokenID: attempted, Err: err})
			if errors.Is(err, errs.ErrStoreUnavailable) || errors.Is(err, errs.ErrAlreadyExists) {
				continue
			}
			return res, err
		}
		res.Tokens = append(res.Tokens, tok)
	}
	s.logResult("resumed", res)
	return res, nil
}

// createSlot generates ids until one is created or attempts run out.
// It returns the last attempted id alongside any error.
func (s *IssueService) createSlot(ctx context.Context, batchID uuid.UUID, c model.TokenContext) (model.Token, string, error) {
	var last string
	for attempt := 1; attempt <= s.limits.MaxAttempts; attempt++ {
		id, err := s.gen.Generate(c)
		if err != nil {
			return model.Token{}, last, fmt.Errorf("generate id: %w", err)
		}
		last = id
		tok := model.Token{ID: id, BatchID: batchID, Context: c, CreatedAt: s.now().UTC()}
		out, err := s.store.CreateIfAbsent(ctx, tok)
		if err != nil {
			s.met.IssueFailure(reasonUnavailable)
			s.log.Warn("create token failed", zap.String("token_id", id), zap.Error(err))
			return model.Token{}, id, err
		}
		if out == model.Created {
			s.met.TokenIssued()
			return tok, id, nil
		}
		s.log.Warn("token id collision", zap.String("token_id", id), zap.Int("attempt", attempt))
	}
	s.met.IssueFailure(reasonExhausted)
	return model.Token{}, last, fmt.Errorf("%w: day %s seq %d after %d attempts", errs.ErrIssuanceExhausted, c.Day, c.Seq, s.limits.MaxAttempts)
}

// recoverSlot resolves a slot whose previous create had an unknown outcome.
func (s *IssueService) recoverSlot(ctx context.Context, batchID uuid.UUID, c model.TokenContext, id string) (model.Token, error) {
	tok := model.Token{ID: id, BatchID: batchID, Context: c, CreatedAt: s.now().UTC()}
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		s.met.IssueFailure(reasonUnavailable)
		return model.Token{}, err
	}
	if ok {
		stored, err := s.store.Get(ctx, id)
		if err != nil {
			s.met.IssueFailure(reasonUnavailable)
			s.log.Warn("read landed token failed", zap.String("token_id", id), zap.Error(err))
			if !errors.Is(err, errs.ErrStoreUnavailable) {
				err = fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
			}
			return model.Token{}, err
		}
		if stored.RedeemedAt != nil {
			return model.Token{}, fmt.Errorf("%w: token %s already redeemed", errs.ErrAlreadyExists, id)
		}
		return *stored, nil
	}
	out, err := s.store.CreateIfAbsent(ctx, tok)
	if err != nil {
		s.met.IssueFailure(reasonUnavailable)
		return model.Token{}, err
	}
	if out == model.Created {
		s.met.TokenIssued()
	}
	// AlreadyExists here is the earlier attempt landing late: the record is ours.
	return tok, nil
}

func (s *IssueService) validate(req model.IssueRequest) error {
	if err := validateContext(req); err != nil {
		return err
	}
	if len(req.Days) == 0 {
		return fmt.Errorf("%w: no days requested", errs.ErrValidation)
	}
	seen := make(map[string]struct{}, len(req.Days))
	total := 0
	for i, d := range req.Days {
		if strings.TrimSpace(d.Day) == "" {
			return fmt.Errorf("%w: days[%d] empty day", errs.ErrValidation, i)
		}
		if _, dup := seen[d.Day]; dup {
			return fmt.Errorf("%w: day %q repeated", errs.ErrValidation, d.Day)
		}
		seen[d.Day] = struct{}{}
		if d.Count < 0 {
			return fmt.Errorf("%w: day %q negative count", errs.ErrValidation, d.Day)
		}
		if d.Count > s.limits.MaxPerDay {
			return fmt.Errorf("%w: day %q count %d > %d", errs.ErrValidation, d.Day, d.Count, s.limits.MaxPerDay)
		}
		total += d.Count
	}
	if total == 0 {
		return fmt.Errorf("%w: nothing to issue", errs.ErrValidation)
	}
	if total > s.limits.MaxTotal {
		return fmt.Errorf("%w: total %d > %d", errs.ErrValidation, total, s.limits.MaxTotal)
	}
	if c := req.Contribution; c != nil {
		if c.BaseDonation < 0 || c.ExtraDonation < 0 || c.TotalAmount < 0 {
			return fmt.Errorf("%w: negative amount", errs.ErrValidation)
		}
		if len(c.PaymentNote) > MaxPaymentNoteLen {
			return fmt.Errorf("%w: payment note longer than %d", errs.ErrValidation, MaxPaymentNoteLen)
		}
	}
	return nil
}

func validateContext(req model.IssueRequest) error {
	switch {
	case strings.TrimSpace(req.Event) == "":
		return fmt.Errorf("%w: empty event", errs.ErrValidation)
	case strings.TrimSpace(req.Block) == "":
		return fmt.Errorf("%w: empty block", errs.ErrValidation)
	case strings.TrimSpace(req.Flat) == "":
		return fmt.Errorf("%w: empty flat", errs.ErrValidation)
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return fmt.Errorf("%w: bad email", errs.ErrValidation)
		}
	}
	return nil
}

func (s *IssueService) logResult(msg string, res model.IssueResult) {
	s.log.Info(msg,
		zap.String("batch_id", res.BatchID.String()),
		zap.Int("created", len(res.Tokens)),
		zap.Int("failed", len(res.Failed)),
	)
}
