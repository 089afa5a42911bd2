package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/contacts/internal/auth"
	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/mail"
	"github.com/example/contacts/internal/ratelimit"
	"github.com/example/contacts/internal/storage"
	"github.com/example/contacts/internal/storage/store"
	"github.com/example/contacts/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	maxBodyBytes = 1 << 20
)

// App holds the dependencies shared by every handler.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	store    storage.Store
	tokens   *auth.TokenService
	gate     *auth.Gate
	auth     *auth.Service
	validate *validate.Validator
	limiter  ratelimit.Limiter
	metrics  *metrics
	registry *prometheus.Registry
	now      func() time.Time
}

// deps are the pluggable parts of App. Nil fields fall back to defaults built
// from the configuration.
type deps struct {
	mailer   mail.Sender
	uploader avatar.Uploader
	limiter  ratelimit.Limiter
}

func newApp(cfg *config.Config, log *slog.Logger, db storage.Store, d deps) (*App, error) {
	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, err
	}

	if d.mailer == nil {
		if d.mailer, err = mail.New(cfg.Mail); err != nil {
			return nil, err
		}
	}
	if d.limiter == nil {
		d.limiter = ratelimit.NewMemory(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	svc := auth.NewService(db, db, auth.NewBcryptHasher(cfg.Auth.BcryptCost), tokens, d.mailer)
	if d.uploader != nil {
		svc.SetAvatarUploader(d.uploader)
	}

	reg := prometheus.NewRegistry()
	return &App{
		cfg:      cfg,
		log:      log,
		store:    db,
		tokens:   tokens,
		gate:     auth.NewGate(tokens, db, db),
		auth:     svc,
		validate: validate.New(),
		limiter:  d.limiter,
		metrics:  newMetrics(reg),
		registry: reg,
		now:      time.Now,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("write json", slog.String("err", err.Error()))
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var d deps
	if cfg.Avatars.Endpoint != "" {
		up, err := avatar.NewMinio(ctx, cfg.Avatars)
		if err != nil {
			return err
		}
		d.uploader = up
		log.Info("avatar uploads enabled", slog.String("bucket", cfg.Avatars.Bucket))
	}
	if cfg.Redis.URL != "" {
		client, err := ratelimit.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		d.limiter = ratelimit.NewRedis(client, cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
		log.Info("rate limiting backed by redis")
	}

	app, err := newApp(cfg, log, db, d)
	if err != nil {
		return err
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &http.Server{
		Handler:      app.routes(),
		Addr:         cfg.HTTP.Addr(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	// let queued confirmation and reset mails go out
	if err := app.auth.WaitContext(shutdownCtx); err != nil {
		log.Warn("pending mail abandoned", slog.String("err", err.Error()))
	}
	log.Info("server exited properly")
	return nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd, "production":
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return log
}
