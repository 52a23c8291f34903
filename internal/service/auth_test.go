package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/foodtoken/internal/crypto"
	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/limiter"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/repository"
)

type fakeOperators struct {
	byName map[string]*model.Operator

	createErr error
	getErr    error
}

var _ repository.OperatorRepository = (*fakeOperators)(nil)

func (f *fakeOperators) Create(_ context.Context, o *model.Operator) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.Operator{}
	}
	if _, exists := f.byName[o.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *o
	f.byName[o.Username] = &cpy
	return nil
}

func (f *fakeOperators) GetByUsername(_ context.Context, username string) (*model.Operator, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *o
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func TestAuth_AddOperator_Basics(t *testing.T) {
	t.Parallel()
	ops := &fakeOperators{byName: map[string]*model.Operator{}}
	s := NewAuthService(ops, []byte("k"), time.Minute, &fakeLimiter{})

	if _, err := s.AddOperator(context.Background(), "", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on empty username/password, got %v", err)
	}

	id, err := s.AddOperator(context.Background(), "gate1", "pwd")
	if err != nil {
		t.Fatalf("AddOperator: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty operator id")
	}
	if o := ops.byName["gate1"]; len(o.Salt) != pkgcrypto.SaltLen || len(o.PwdHash) == 0 {
		t.Fatalf("password not hashed: %+v", o)
	}

	if _, err := s.AddOperator(context.Background(), "gate1", "pwd2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	ops.createErr = errors.New("boom")
	if _, err := s.AddOperator(context.Background(), "gate2", "pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	pw := []byte("correct")
	o := &model.Operator{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "gate1",
		Salt:     salt,
		PwdHash:  pkgcrypto.HashPassword(pw, salt),
	}

	ops := &fakeOperators{byName: map[string]*model.Operator{"gate1": o}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(ops, []byte("secret"), 2*time.Minute, lim)

	lim.allowErr = errors.New("lim-err")
	if _, err := s.LoginWithIP(context.Background(), "gate1", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, err := s.LoginWithIP(context.Background(), "gate1", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	ops.getErr = errs.ErrNotFound
	if _, err := s.LoginWithIP(context.Background(), "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing operator, got %v", err)
	}
	ops.getErr = nil

	lim.failBlocked = true
	if _, err := s.LoginWithIP(context.Background(), "gate1", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, err := s.LoginWithIP(context.Background(), "gate1", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	sess, err := s.LoginWithIP(context.Background(), "gate1", "correct", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if sess.AccessToken == "" || sess.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad session: %+v", sess)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}

	sub, err := s.VerifyAccessToken(sess.AccessToken)
	if err != nil || sub != "gate1" {
		t.Fatalf("VerifyAccessToken: sub=%q err=%v", sub, err)
	}
}

func TestAuth_VerifyAccessToken_Rejects(t *testing.T) {
	t.Parallel()
	s := NewAuthService(&fakeOperators{}, []byte("secret"), time.Minute, &fakeLimiter{})

	sign := func(key []byte, m jwt.SigningMethod, claims jwt.RegisteredClaims) string {
		t.Helper()
		var k any = key
		if m == jwt.SigningMethodNone {
			k = jwt.UnsafeAllowNoneSignatureType
		}
		str, err := jwt.NewWithClaims(m, claims).SignedString(k)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return str
	}
	valid := jwt.RegisteredClaims{Subject: "gate1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-jwt",
		"wrong key":  sign([]byte("other"), jwt.SigningMethodHS256, valid),
		"alg none":   sign(nil, jwt.SigningMethodNone, valid),
		"expired":    sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "gate1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"no expiry":  sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "gate1"}),
		"no subject": sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}),
	}
	for name, tok := range cases {
		if _, err := s.VerifyAccessToken(tok); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("%s: want ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestAuth_LoginTTL(t *testing.T) {
	t.Parallel()

	ops := &fakeOperators{byName: map[string]*model.Operator{}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(ops, []byte("k"), 1*time.Second, lim)

	if _, err := s.AddOperator(context.Background(), "bob", "p"); err != nil {
		t.Fatalf("add: %v", err)
	}

	sess, err := s.LoginWithIP(context.Background(), "bob", "p", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if time.Until(sess.ExpiresAt) <= 0 || time.Until(sess.ExpiresAt) > time.Second {
		t.Fatalf("unexpected expiry: %v", sess.ExpiresAt)
	}
}

func TestAuth_LoginStoreFailureIsNotACredentialFailure(t *testing.T) {
	t.Parallel()
	down := errors.Join(errs.ErrStoreUnavailable, errors.New("conn refused"))
	ops := &fakeOperators{getErr: down}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(ops, []byte("k"), time.Minute, lim)

	_, err := s.LoginWithIP(context.Background(), "gate1", "pw", "10.0.0.1")
	if !errors.Is(err, errs.ErrStoreUnavailable) || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if lim.failureCalls != 0 {
		t.Fatalf("store failure counted as failed login: %d", lim.failureCalls)
	}
}
