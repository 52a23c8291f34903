package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/foodtoken/internal/crypto"
	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/limiter"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/repository"
)

// AuthService authenticates the operators who scan and redeem tokens.
type AuthService struct {
	ops       repository.OperatorRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(ops repository.OperatorRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthService {
	return &AuthService{ops: ops, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// AddOperator creates an operator with a salted Argon2id password hash.
func (s *AuthService) AddOperator(ctx context.Context, username, password string) (uuid.UUID, error) {
	if username == "" || password == "" {
		return uuid.Nil, fmt.Errorf("%w: empty username/password", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, hash, err := pkgcrypto.NewHash([]byte(password))
	if err != nil {
		return uuid.Nil, err
	}
	o := &model.Operator{ID: id, Username: username, PwdHash: hash, Salt: salt}
	if err := s.ops.Create(ctx, o); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthService) LoginWithIP(ctx context.Context, username, password, ip string) (model.Session, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	o, err := s.ops.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), o.Salt, o.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Session{}, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(o.Username)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{AccessToken: access, ExpiresAt: exp}, nil
}

// VerifyAccessToken checks signature and expiry and returns the operator name.
func (s *AuthService) VerifyAccessToken(raw string) (string, error) {
	if raw == "" {
		return "", errs.ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthService) issueAccessToken(subject string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
