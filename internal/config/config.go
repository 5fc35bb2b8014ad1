package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"taskgate.dev/internal/auth"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the process configuration. It is built once at startup and
// passed by value.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver string
	PGDSN       string
	SQLitePath  string

	AuthSecret         string
	AuthAlgorithm      string
	AuthIssuer         string
	AccessTokenTTL     time.Duration
	PasswordScheme     string
	AuthzCacheTTL      time.Duration
	RevalidateIdentity bool
	EmbedPermissions   bool
	DefaultRole        string

	RateLimitBurst int
	RateLimitRPS   int
	MaxBodyBytes   int64
	TrustedProxies []string

	LogLevel          string
	AuditKafkaBrokers []string
	AuditKafkaTopic   string

	PolicyFile string
	Policy     Policy
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults and validation.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		HTTPAddr:           r.str("HTTP_ADDR", ":8080"),
		GRPCAddr:           r.str("GRPC_ADDR", ":9090"),
		StoreDriver:        strings.ToLower(r.str("STORE_DRIVER", DriverPostgres)),
		PGDSN:              r.str("PG_DSN", ""),
		SQLitePath:         r.str("SQLITE_PATH", "taskgate.db"),
		AuthSecret:         r.str("AUTH_SECRET", ""),
		AuthAlgorithm:      strings.ToUpper(r.str("AUTH_ALGORITHM", "HS256")),
		AuthIssuer:         r.str("AUTH_ISSUER", "taskgate"),
		AccessTokenTTL:     r.duration("ACCESS_TOKEN_TTL", 30*time.Minute),
		PasswordScheme:     strings.ToLower(r.str("PASSWORD_SCHEME", auth.SchemeArgon2id)),
		AuthzCacheTTL:      r.duration("AUTHZ_CACHE_TTL", time.Minute),
		RevalidateIdentity: r.boolean("AUTH_REVALIDATE_IDENTITY", false),
		EmbedPermissions:   r.boolean("TOKEN_EMBED_PERMISSIONS", true),
		DefaultRole:        strings.ToLower(r.str("DEFAULT_ROLE", "client")),
		RateLimitBurst:     r.integer("RATE_LIMIT_BURST", 20),
		RateLimitRPS:       r.integer("RATE_LIMIT_RPS", 10),
		MaxBodyBytes:       int64(r.integer("MAX_BODY_BYTES", 1<<20)),
		TrustedProxies:     r.list("TRUSTED_PROXIES"),
		LogLevel:           r.str("LOG_LEVEL", "info"),
		AuditKafkaBrokers:  r.list("AUDIT_KAFKA_BROKERS"),
		AuditKafkaTopic:    r.str("AUDIT_KAFKA_TOPIC", "taskgate.audit"),
		PolicyFile:         r.str("AUTH_POLICY_FILE", ""),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Policy = policy

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver))
	}
	switch c.AuthAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("AUTH_ALGORITHM %q is not supported", c.AuthAlgorithm))
	}
	switch c.PasswordScheme {
	case auth.SchemeArgon2id, auth.SchemeBcrypt:
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_SCHEME %q is not supported", c.PasswordScheme))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.AuthzCacheTTL < 0 {
		errs = append(errs, errors.New("AUTHZ_CACHE_TTL cannot be negative"))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_RPS must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy))
		}
	}
	if err := c.Policy.RoutePolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
