package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"journal-gateway/logging"
	"journal-gateway/middleware/ratelimit"
	"journal-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	log, err := logging.New(os.Getenv("LOG_LEVEL"), "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// Exemplo: middleware direto no seu webserver (sem proxy), contadores em memória
	store := infra.NewMemoryCounterStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	r := chi.NewRouter()
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: log}))

	r.With(ratelimit.Middleware(ratelimit.Options{
		Name:        "entries",
		Store:       store,
		Window:      time.Minute,
		MaxRequests: 30,
		KeyHeader:   "X-Api-Key", // ou vazio para usar IP
		Logger:      log,
	})).Get("/api/entries", func(w http.ResponseWriter, r *http.Request) {
		ratelimit.WriteJSON(w, http.StatusOK, []map[string]string{{"id": "1", "title": "Hoje"}})
	})

	r.With(ratelimit.Middleware(ratelimit.Options{
		Name:        "summaries",
		Store:       store,
		Window:      time.Hour,
		MaxRequests: 5,
		Logger:      log,
	})).Post("/api/summaries/daily", func(w http.ResponseWriter, r *http.Request) {
		ratelimit.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
