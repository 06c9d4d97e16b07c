package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"journal-gateway/gateway"
	"journal-gateway/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (SIGINT/SIGTERM shut it down gracefully)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().String("listen", "", "listen address (LISTEN_ADDR)")
	cmd.Flags().String("upstream", "", "journaling app base URL (UPSTREAM_URL)")
	_ = opts.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	_ = opts.v.BindPFlag("upstream_url", cmd.Flags().Lookup("upstream"))
	return cmd
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bc, err := backendConfig(cfg)
	if err != nil {
		return err
	}
	// backend resolvido uma vez, aqui, e injetado no gateway
	sel, err := infra.SelectCounterStore(ctx, bc, log)
	if err != nil {
		return err
	}
	defer func() { _ = sel.Close() }()
	if sel.Memory != nil {
		sel.Memory.StartJanitor(ctx)
	}

	gw, err := gateway.New(gateway.Deps{
		Config:   cfg,
		Logger:   log,
		Counters: sel,
		Stats:    gateway.NewStatsStore(cfg.Stats, sel),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	policies := gateway.Policies(cfg)
	fields := make([]zap.Field, 0, len(policies))
	for _, p := range policies {
		fields = append(fields, zap.String("policy."+p.Name, fmt.Sprintf("%s %d/%s", p.PathPrefix, p.MaxRequests, p.Window)))
	}
	log.Info("gateway listening",
		append([]zap.Field{
			zap.String("addr", cfg.ListenAddr),
			zap.String("upstream", cfg.UpstreamURL),
			zap.String("env", cfg.AppEnv),
			zap.String("backend", string(sel.Backend)),
			zap.Bool("rate_enabled", cfg.Rate.Enabled),
			zap.Bool("stats_enabled", cfg.Stats.Enabled),
			zap.Int("concurrency_max", cfg.Concurrency.Max),
		}, fields...)...)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("gateway stopped")
	return nil
}
