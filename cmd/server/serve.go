package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/config"
	pkgcrypto "github.com/and161185/foodtoken/internal/crypto"
	"github.com/and161185/foodtoken/internal/errs"
	"github.com/and161185/foodtoken/internal/limiter"
	"github.com/and161185/foodtoken/internal/metrics"
	"github.com/and161185/foodtoken/internal/migrate"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/notify"
	"github.com/and161185/foodtoken/internal/qrcode"
	"github.com/and161185/foodtoken/internal/repository"
	"github.com/and161185/foodtoken/internal/repository/badgerstore"
	"github.com/and161185/foodtoken/internal/repository/memstore"
	"github.com/and161185/foodtoken/internal/repository/postgres"
	"github.com/and161185/foodtoken/internal/repository/redisstore"
	"github.com/and161185/foodtoken/internal/server/httpserver"
	"github.com/and161185/foodtoken/internal/service"
	"github.com/and161185/foodtoken/internal/tokenid"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			log.Info("starting",
				zap.String("version", version),
				zap.String("buildDate", buildDate),
				zap.String("addr", cfg.Server.Addr),
				zap.String("backend", cfg.Store.Backend),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(ctx, cfg.Server, a.handler, log)
		},
	}
}

// app is the wired server; close releases backends in reverse order.
type app struct {
	handler http.Handler
	store   repository.TokenRepository
	auth    *service.AuthService
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type backend struct {
	store   repository.TokenRepository
	ops     repository.OperatorRepository
	lim     limiter.Limiter
	health  func(context.Context) error
	closers []func()
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	policy := limiter.Policy{Window: cfg.Auth.Window, MaxFails: cfg.Auth.MaxFails, BlockFor: cfg.Auth.BlockFor}
	seed, err := seedOperators(cfg.Auth.Operators)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if err := migrate.Up(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		ops := postgres.NewOperatorRepo(db)
		for i := range seed {
			if err := ops.Create(ctx, &seed[i]); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
				db.Close()
				return nil, fmt.Errorf("seed operator %s: %w", seed[i].Username, err)
			}
		}
		return &backend{
			store:   postgres.NewTokenRepo(db),
			ops:     ops,
			lim:     limiter.NewPG(db.Pool, policy),
			health:  db.Ping,
			closers: []func(){db.Close},
		}, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		st := redisstore.New(rdb, cfg.Store.RedisPrefix)
		return &backend{
			store:   st,
			ops:     memstore.NewOperators(seed...),
			lim:     limiter.NewMemory(policy),
			health:  st.Ping,
			closers: []func(){func() { _ = st.Close() }},
		}, nil

	case config.BackendBadger:
		st, err := badgerstore.Open(cfg.Store.BadgerDir, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:   st,
			ops:     memstore.NewOperators(seed...),
			lim:     limiter.NewMemory(policy),
			health:  st.Ping,
			closers: []func(){func() { _ = st.Close() }},
		}, nil

	case config.BackendMemory:
		st := memstore.New()
		return &backend{
			store:  st,
			ops:    memstore.NewOperators(seed...),
			lim:    limiter.NewMemory(policy),
			health: st.Ping,
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
}

// seedOperators decodes configured operators.
func seedOperators(entries []config.OperatorEntry) ([]model.Operator, error) {
	out := make([]model.Operator, 0, len(entries))
	for _, e := range entries {
		salt, hash, err := pkgcrypto.DecodeHash(e.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("operator %s: %w", e.Username, err)
		}
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		out = append(out, model.Operator{ID: id, Username: e.Username, Salt: salt, PwdHash: hash})
	}
	return out, nil
}

func newNotifier(cfg config.SMTPConfig, log *zap.Logger) (notify.Notifier, error) {
	if cfg.Host == "" {
		log.Warn("smtp host not set, notifications are only logged")
		return notify.NewLog(log), nil
	}
	return notify.NewSMTP(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		TLS:      cfg.TLS,
		Timeout:  cfg.Timeout,
	})
}

func build(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{store: be.store, closers: be.closers}

	n, err := newNotifier(cfg.SMTP, log)
	if err != nil {
		a.close()
		return nil, err
	}
	organiser := cfg.SMTP.Organiser
	if organiser == "" {
		organiser = cfg.SMTP.From
	}

	met := metrics.New()
	limits := service.IssueLimits{
		MaxAttempts: cfg.Issue.MaxAttempts,
		MaxPerDay:   cfg.Issue.MaxPerDay,
		MaxTotal:    cfg.Issue.MaxTotal,
	}
	delivery := service.NewDeliveryService(qrcode.New(cfg.QR.Size), n, organiser, log, met).
		WithPayee(service.Payee{VPA: cfg.Payment.UPIID, Name: cfg.Payment.PayeeName, Currency: cfg.Payment.Currency})
	a.auth = service.NewAuthService(be.ops, []byte(cfg.Auth.SignKey), cfg.Auth.AccessTTL, be.lim)

	srv := httpserver.New(httpserver.Deps{
		Issue:    service.NewIssueService(be.store, tokenid.New(), limits, log, met),
		Redeem:   service.NewRedeemService(be.store, log, met),
		Auth:     a.auth,
		Delivery: delivery,
		Health:   be.health,
		Metrics:  met.Handler(),
		Log:      log,
		Timeout:  cfg.Server.RequestTimeout,
	})
	a.handler = srv.Handler()
	return a, nil
}

func serve(ctx context.Context, cfg config.ServerConfig, h http.Handler, log *zap.Logger) error {
	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			log.Warn("graceful shutdown", zap.Error(err))
			_ = hs.Close()
		}
		log.Info("shutdown complete")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}
