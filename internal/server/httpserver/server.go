// Package httpserver exposes the token issuance and redemption HTTP API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/convert"
	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/service"
)

const maxBody = 1 << 20

// Issuer creates token batches.
type Issuer interface {
	Issue(ctx context.Context, req model.IssueRequest) (model.IssueResult, error)
	Resume(ctx context.Context, req model.ResumeRequest) (model.IssueResult, error)
}

// Redeemer performs redemption and audit reads.
type Redeemer interface {
	Redeem(ctx context.Context, id string) (model.RedeemResult, error)
	Get(ctx context.Context, id string) (*model.Token, error)
}

// Deliverer sends created tokens to their recipients.
type Deliverer interface {
	Deliver(ctx context.Context, req model.IssueRequest, res model.IssueResult) service.DeliveryReport
}

// Authenticator logs operators in and verifies their tokens.
type Authenticator interface {
	TokenVerifier
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Session, error)
}

// Deps are the collaborators of the HTTP API. Delivery, Health and Metrics may be nil.
type Deps struct {
	Issue    Issuer
	Redeem   Redeemer
	Auth     Authenticator
	Delivery Deliverer
	Health   func(ctx context.Context) error
	Metrics  http.Handler
	Log      *zap.Logger
	Timeout  time.Duration
}

// Server wires services into HTTP handlers.
type Server struct {
	d Deps
}

// New constructs a Server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{d: d}
}

// Handler returns the routed API with logging, recovery and timeouts applied.
// Routes are method-qualified, so other methods answer 405.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	operator := RequireOperator(s.d.Auth)

	mux.HandleFunc("POST /v1/tokens/issue", s.handleIssue)
	mux.HandleFunc("POST /v1/tokens/issue/retry", s.handleRetry)
	mux.Handle("POST /v1/tokens/redeem", operator(http.HandlerFunc(s.handleRedeem)))
	mux.Handle("GET /v1/audit/{id}", operator(http.HandlerFunc(s.handleGet)))
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.d.Metrics != nil {
		mux.Handle("GET /metrics", s.d.Metrics)
	}

	return Chain(mux, Recover(s.d.Log), Logging(s.d.Log), Timeout(s.d.Timeout))
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var in convert.IssueRequest
	if !decode(w, r, &in) {
		return
	}
	req := convert.FromIssueRequest(in)
	res, err := s.d.Issue.Issue(r.Context(), req)
	s.respondIssue(w, r, req, res, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var in convert.RetryRequest
	if !decode(w, r, &in) {
		return
	}
	req, err := convert.FromRetryRequest(in)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := s.d.Issue.Resume(r.Context(), req)
	s.respondIssue(w, r, convert.IssueRequestOf(req), res, err)
}

// respondIssue delivers whatever was created, then answers 201, 207 on partial
// failure, or the error status with the partial result attached.
func (s *Server) respondIssue(w http.ResponseWriter, r *http.Request, req model.IssueRequest, res model.IssueResult, err error) {
	if err != nil && len(res.Tokens) == 0 && len(res.Failed) == 0 {
		s.writeError(w, err)
		return
	}
	var rep service.DeliveryReport
	if s.d.Delivery != nil {
		// delivery must not be cut short by a client that went away
		rep = s.d.Delivery.Deliver(context.WithoutCancel(r.Context()), req, res)
	}
	out := convert.ToIssueResponse(res, rep)
	switch {
	case err != nil:
		out.Error = err.Error()
		writeJSON(w, statusOf(err), out)
	case res.Partial():
		writeJSON(w, http.StatusMultiStatus, out)
	default:
		writeJSON(w, http.StatusCreated, out)
	}
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var in convert.RedeemRequest
	if !decode(w, r, &in) {
		return
	}
	res, err := s.d.Redeem.Redeem(r.Context(), in.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if name, ok := OperatorFromCtx(r.Context()); ok {
		s.d.Log.Info("redeemed by", zap.String("operator", name), zap.String("status", string(res.Status)))
	}
	status := http.StatusOK
	switch res.Status {
	case model.AlreadyRedeemed:
		status = http.StatusConflict
	case model.NotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, convert.ToRedeemResponse(in.Token, res))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tok, err := s.d.Redeem.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToTokenResponse(*tok))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in convert.LoginRequest
	if !decode(w, r, &in) {
		return
	}
	sess, err := s.d.Auth.LoginWithIP(r.Context(), in.Username, in.Password, remoteIP(r))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, errorBody("bad credentials"))
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLoginResponse(sess))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		if err := s.d.Health(r.Context()); err != nil {
			s.d.Log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	switch code {
	case http.StatusInternalServerError:
		if !errors.Is(err, errs.ErrIssuanceExhausted) {
			s.d.Log.Error("request failed", zap.Error(err))
			msg = "internal"
		}
	case http.StatusServiceUnavailable:
		s.d.Log.Warn("store unavailable", zap.Error(err))
		msg = errs.ErrStoreUnavailable.Error()
	case http.StatusNotFound:
		msg = "not found"
	}
	writeJSON(w, code, errorBody(msg))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) convert.ErrorResponse { return convert.ErrorResponse{Error: msg} }

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
