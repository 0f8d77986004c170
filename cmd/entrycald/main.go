// Command entrycald serves the calendar backend: a JSON REST API under
// /api/v1 and websocket endpoints under /ws.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrycal/entrycal/config"
	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/handlers"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage/memory"
	"github.com/entrycal/entrycal/server/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "entrycald:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	store := memory.New()
	tokens := auth.NewTokenIssuer([]byte(cfg.SecretKey), cfg.Auth.AccessTokenTTL.Std(), cfg.Auth.RefreshTokenTTL.Std())
	registry := realtime.NewRegistry(realtime.WithLogger(logger))
	notifier := realtime.NewNotifier(registry)

	api := handlers.NewAPI(store, tokens, notifier, logger)
	wsHandler := ws.NewHandler(registry, store, tokens, logger, ws.Options{
		PingInterval: cfg.WebSocket.PingInterval.Std(),
		IdleTimeout:  cfg.WebSocket.IdleTimeout.Std(),
		WriteTimeout: cfg.WebSocket.WriteTimeout.Std(),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		// Long-lived websocket connections must stay outside any
		// request timeout middleware.
		r.Use(middleware.Timeout(30 * time.Second))
		r.Mount("/api/v1", api.Routes())
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	})
	wsHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// requestLogger logs one line per completed request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
