// Package config carrega a configuração do gateway: padrões, arquivo YAML
// opcional e variáveis de ambiente (LISTEN_ADDR, UPSTREAM_URL, RATE_WINDOW,
// REDIS_URL, ...), nesta ordem de precedência crescente.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string `mapstructure:"app_env"`
	ListenAddr  string `mapstructure:"listen_addr"`
	UpstreamURL string `mapstructure:"upstream_url"`

	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Rate        RateConfig        `mapstructure:"rate"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// RateConfig é a política padrão; Rules sobrepõe por prefixo de caminho.
type RateConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	KeyHeader   string        `mapstructure:"key_header"`
	Rules       []RuleConfig  `mapstructure:"rules"`

	// TrustProxyHeaders usa X-Forwarded-For/X-Real-IP/CF-Connecting-IP como
	// chave. Desligue quando o gateway recebe tráfego direto da internet.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

type RuleConfig struct {
	Name        string        `mapstructure:"name"`
	PathPrefix  string        `mapstructure:"path_prefix"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type StoreConfig struct {
	// Backend: auto (padrão), redis ou memory.
	Backend        string        `mapstructure:"backend"`
	Prefix         string        `mapstructure:"prefix"`
	MemoryCapacity uint64        `mapstructure:"memory_capacity"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type StatsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Bucket    string        `mapstructure:"bucket"`
	TrackKeys bool          `mapstructure:"track_keys"`
}

type ConcurrencyConfig struct {
	Max     int           `mapstructure:"max"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const DefaultPolicy = "default"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("upstream_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("rate.enabled", true)
	v.SetDefault("rate.window", time.Minute)
	v.SetDefault("rate.max_requests", 60)
	v.SetDefault("rate.key_header", "")
	v.SetDefault("rate.trust_proxy_headers", true)
	v.SetDefault("rate.rules", []map[string]any{})

	v.SetDefault("store.backend", "auto")
	v.SetDefault("store.prefix", "journal:ratelimit")
	v.SetDefault("store.memory_capacity", 0)
	v.SetDefault("store.ping_timeout", 2*time.Second)

	v.SetDefault("redis.url", "")

	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.prefix", "journal:ratelimit:stats")
	v.SetDefault("stats.ttl", 24*time.Hour)
	v.SetDefault("stats.bucket", "minute")
	v.SetDefault("stats.track_keys", false)

	v.SetDefault("concurrency.max", 100)
	v.SetDefault("concurrency.timeout", time.Duration(0))
}

// Load lê a configuração. v pode já ter flags ligadas (BindPFlag); se nil,
// uma instância nova é usada. path vazio dispensa o arquivo.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

// Validate não exige UPSTREAM_URL: os comandos de manutenção não usam proxy.
// REDIS_URL ausente em produção também não é erro (vira aviso na subida).
func (c *Config) Validate() error {
	var errs []error

	if err := validatePolicy("rate", c.Rate.Window, c.Rate.MaxRequests); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]bool{DefaultPolicy: true}
	prefixes := map[string]string{}
	for i, r := range c.Rate.Rules {
		name := strings.TrimSpace(r.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("rate.rules[%d]: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("rate.rules[%d]: duplicate or reserved name %q", i, name))
		}
		seen[name] = true

		if !strings.HasPrefix(r.PathPrefix, "/") || strings.Trim(r.PathPrefix, "/") == "" {
			errs = append(errs, fmt.Errorf("rate.rules[%d]: path_prefix must start with / and not be the root", i))
		} else {
			// chi só guarda a última rota registrada para o mesmo caminho
			prefix := strings.TrimSuffix(r.PathPrefix, "/")
			if other, ok := prefixes[prefix]; ok {
				errs = append(errs, fmt.Errorf("rate.rules[%d]: path_prefix %q already used by rule %q", i, r.PathPrefix, other))
			}
			prefixes[prefix] = name
		}
		if err := validatePolicy(fmt.Sprintf("rate.rules[%d]", i), r.Window, r.MaxRequests); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Backend)) {
	case "", "auto", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be auto, redis or memory, got %q", c.Store.Backend))
	}

	switch strings.ToLower(strings.TrimSpace(c.Stats.Bucket)) {
	case "minute", "none":
	default:
		errs = append(errs, fmt.Errorf("STATS_BUCKET must be minute or none, got %q", c.Stats.Bucket))
	}

	if c.Concurrency.Max < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}

	return errors.Join(errs...)
}

func validatePolicy(name string, window time.Duration, max int) error {
	var errs []error
	if window < time.Millisecond {
		errs = append(errs, fmt.Errorf("%s: window must be at least 1ms, got %s", name, window))
	}
	if max <= 0 {
		errs = append(errs, fmt.Errorf("%s: max_requests must be > 0, got %d", name, max))
	}
	return errors.Join(errs...)
}
