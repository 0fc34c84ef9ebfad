// Package config loads service settings from the environment, optionally
// primed from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the API service.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	PGDSN            string
	MigrateOnStart   bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AuthSecret       string
	TokenTTL         time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	LoginPerMinute   int
	LoginBurst       int
	StalePolicy      string
	SubscriberBuffer int
	LogLevel         string
	ShutdownTimeout  time.Duration
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":9090",
		RedisDB:          0,
		TokenTTL:         24 * time.Hour,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		LoginPerMinute:   10,
		LoginBurst:       5,
		StalePolicy:      "reject_stale",
		SubscriberBuffer: 16,
		LogLevel:         "info",
		ShutdownTimeout:  10 * time.Second,
	}
}

// Load reads the given .env files (missing files are ignored) and then the
// LOCSHARE_* variables. Variables already present in the process environment
// win over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("LOCSHARE_HTTP_ADDR", &cfg.HTTPAddr)
	p.str("LOCSHARE_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("LOCSHARE_PG_DSN", &cfg.PGDSN)
	p.boolean("LOCSHARE_MIGRATE_ON_START", &cfg.MigrateOnStart)
	p.str("LOCSHARE_REDIS_ADDR", &cfg.RedisAddr)
	p.str("LOCSHARE_REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("LOCSHARE_REDIS_DB", &cfg.RedisDB)
	p.str("LOCSHARE_AUTH_SECRET", &cfg.AuthSecret)
	p.duration("LOCSHARE_TOKEN_TTL", &cfg.TokenTTL)
	p.float("LOCSHARE_RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	p.integer("LOCSHARE_RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	p.integer("LOCSHARE_LOGIN_PER_MINUTE", &cfg.LoginPerMinute)
	p.integer("LOCSHARE_LOGIN_BURST", &cfg.LoginBurst)
	p.str("LOCSHARE_STALE_POLICY", &cfg.StalePolicy)
	p.integer("LOCSHARE_SUBSCRIBER_BUFFER", &cfg.SubscriberBuffer)
	p.str("LOCSHARE_LOG_LEVEL", &cfg.LogLevel)
	p.duration("LOCSHARE_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("LOCSHARE_AUTH_SECRET is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("LOCSHARE_TOKEN_TTL must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("LOCSHARE_HTTP_ADDR must not be empty"))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
