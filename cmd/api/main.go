package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/config"
	"github.com/quendale/supportchat/internal/handler"
	"github.com/quendale/supportchat/internal/identity"
	"github.com/quendale/supportchat/internal/service/ai"
	"github.com/quendale/supportchat/internal/service/conversation"
	"github.com/quendale/supportchat/internal/service/orchestrator"
	"github.com/quendale/supportchat/internal/service/realtime"
	"github.com/quendale/supportchat/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	records, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer records.Close()

	hub := realtime.NewHub(log)
	records.SetInsertListener(hub)

	gen := newGenerator(ctx, cfg.AI, log)

	manager := conversation.NewManager(records, hub, gen, conversation.Config{
		HistoryLimit:    cfg.Engine.HistoryLimit,
		ResponseTimeout: cfg.Engine.ResponseTimeout,
		OptimisticTTL:   cfg.Engine.OptimisticTTL,
	}, log)
	defer manager.Shutdown()

	router := handler.NewRouter(manager, hub, cfg.Auth.JWTSecret, identity.DefaultCookieConfig(), log)

	startServer(ctx, cfg.Server, router, log)
}

// newGenerator returns the configured response generator, or a stub that
// always reports unavailability so sends still surface the recoverable
// inline error instead of wedging.
func newGenerator(ctx context.Context, cfg config.AIConfig, log zerolog.Logger) orchestrator.Generator {
	if !cfg.Enabled() {
		log.Warn().Msg("model credentials not configured, assistant replies disabled")
		return orchestrator.GeneratorFunc(func(context.Context, orchestrator.Request) (string, error) {
			return "", errors.New("response generation not configured")
		})
	}

	svc, err := ai.NewService(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize response generator")
	}
	log.Info().Str("model", cfg.Model).Msg("response generator initialized")
	return svc
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("support widget backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
