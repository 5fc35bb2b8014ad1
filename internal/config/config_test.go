package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"AUTH_SECRET": "s3cret",
		"PG_DSN":      "postgres://localhost/taskgate",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "HS256", cfg.AuthAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, time.Minute, cfg.AuthzCacheTTL)
	assert.Equal(t, "argon2id", cfg.PasswordScheme)
	assert.Equal(t, "client", cfg.DefaultRole)
	assert.True(t, cfg.EmbedPermissions)
	assert.False(t, cfg.RevalidateIdentity)
	assert.Empty(t, cfg.AuditKafkaBrokers)

	rp := cfg.Policy.RoutePolicy()
	assert.True(t, rp.IsPublic("/health", "GET"))
	assert.True(t, rp.IsPublic("/users/login", "POST"))
	assert.True(t, rp.IsPublic("/users", "POST"))
	assert.False(t, rp.IsPublic("/users", "GET"))
	assert.False(t, rp.IsPublic("/tasks", "GET"))
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"AUTH_SECRET":              "s3cret",
		"STORE_DRIVER":             "SQLite",
		"SQLITE_PATH":              "/tmp/x.db",
		"AUTH_ALGORITHM":           "hs512",
		"ACCESS_TOKEN_TTL":         "5m",
		"AUTHZ_CACHE_TTL":          "0s",
		"AUTH_REVALIDATE_IDENTITY": "true",
		"TOKEN_EMBED_PERMISSIONS":  "false",
		"AUDIT_KAFKA_BROKERS":      "k1:9092, k2:9092,",
		"PASSWORD_SCHEME":          "bcrypt",
		"TRUSTED_PROXIES":          "10.0.0.0/8, 192.0.2.7",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "HS512", cfg.AuthAlgorithm)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Zero(t, cfg.AuthzCacheTTL)
	assert.True(t, cfg.RevalidateIdentity)
	assert.False(t, cfg.EmbedPermissions)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.AuditKafkaBrokers)
	assert.Equal(t, "bcrypt", cfg.PasswordScheme)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.TrustedProxies)
}

func TestFromEnvValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {"PG_DSN": "postgres://x"},
		"missing dsn":     {"AUTH_SECRET": "s"},
		"bad driver":      {"AUTH_SECRET": "s", "STORE_DRIVER": "mongo"},
		"bad algorithm":   {"AUTH_SECRET": "s", "PG_DSN": "x", "AUTH_ALGORITHM": "RS256"},
		"bad duration":    {"AUTH_SECRET": "s", "PG_DSN": "x", "ACCESS_TOKEN_TTL": "soon"},
		"bad bool":        {"AUTH_SECRET": "s", "PG_DSN": "x", "AUTH_REVALIDATE_IDENTITY": "maybe"},
		"bad scheme":      {"AUTH_SECRET": "s", "PG_DSN": "x", "PASSWORD_SCHEME": "md5"},
		"zero rate limit": {"AUTH_SECRET": "s", "PG_DSN": "x", "RATE_LIMIT_RPS": "0"},
		"bad proxy":       {"AUTH_SECRET": "s", "PG_DSN": "x", "TRUSTED_PROXIES": "10.0.0.0/8,gateway"},
	}
	for name, env := range cases {
		_, err := FromEnv(envMap(env))
		assert.Error(t, err, name)
	}
}

func TestDefaultPolicyCatalog(t *testing.T) {
	p, err := DefaultPolicy()
	require.NoError(t, err)

	roles := map[string][]string{}
	for _, r := range p.Catalog.Roles {
		roles[r.Name] = r.Permissions
	}
	require.Len(t, roles, 4)
	assert.Len(t, roles["admin"], len(p.Catalog.Permissions))
	assert.Contains(t, roles["employee"], "tasks.list")
	assert.NotContains(t, roles["employee"], "tasks.create")
	assert.ElementsMatch(t, []string{"users.profile", "users.simple", "users.update", "tasks.list", "tasks.view", "tasks.update_state"}, roles["client"])
	assert.NotContains(t, roles["client"], "users.list")
	assert.NotContains(t, roles["client"], "tasks.create")
	assert.NotContains(t, roles["manager"], "users.insert")
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
public:
  routes: [/health]
catalog:
  permissions:
    - {name: tasks.list, route: /tasks, method: GET}
  roles:
    - {name: viewer, permissions: [tasks.list]}
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/health"}, p.Public.Routes)
	assert.Len(t, p.Catalog.Roles, 1)

	_, err = ParsePolicy([]byte("public:\n  routez: [/]\n"))
	assert.Error(t, err, "unknown keys must be rejected")

	_, err = ParsePolicy([]byte("catalog:\n  roles:\n    - {name: x, permissions: [ghost]}\n"))
	assert.Error(t, err, "dangling permission reference")

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPolicyRejectsBroadPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("public:\n  prefixes: [/]\n"), 0o600))

	_, err := FromEnv(envMap(map[string]string{"AUTH_SECRET": "s", "PG_DSN": "x", "AUTH_POLICY_FILE": path}))
	assert.Error(t, err)
}
