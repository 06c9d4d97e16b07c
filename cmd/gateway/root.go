package main

import (
	"fmt"

	"journal-gateway/config"
	"journal-gateway/logging"
	"journal-gateway/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Rate limited gateway in front of the journaling app",
		Long: `gateway fica na frente do app de diário e aplica cota por janela fixa
por chamador (IP ou header), com contadores em Redis ou em memória.

A configuração vem de padrões, de um YAML opcional (--config) e de variáveis
de ambiente (LISTEN_ADDR, UPSTREAM_URL, APP_ENV, RATE_WINDOW, RATE_MAX_REQUESTS,
REDIS_URL, STORE_BACKEND, ...), nesta ordem.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (env vars override it)")

	cmd.AddCommand(newServeCmd(opts), newCountersCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func backendConfig(cfg *config.Config) (infra.BackendConfig, error) {
	backend, err := infra.ParseBackend(cfg.Store.Backend)
	if err != nil {
		return infra.BackendConfig{}, fmt.Errorf("STORE_BACKEND: %w", err)
	}
	return infra.BackendConfig{
		Backend:        backend,
		Production:     cfg.IsProduction(),
		RedisURL:       cfg.Redis.URL,
		Prefix:         cfg.Store.Prefix,
		PingTimeout:    cfg.Store.PingTimeout,
		MemoryCapacity: cfg.Store.MemoryCapacity,
	}, nil
}
