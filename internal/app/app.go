// Package app wires configuration, stores and services for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"taskgate.dev/internal/audit"
	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/config"
	"taskgate.dev/internal/obs"
	"taskgate.dev/internal/store/pg"
	"taskgate.dev/internal/store/sqlite"
	"taskgate.dev/internal/tasks"
)

const (
	permissionCacheSize = 1024
	auditQueueSize      = 1024
)

// Store is what a storage driver must provide.
type Store interface {
	auth.Store
	tasks.Store
	Close() error
}

// OpenStore opens the driver selected by cfg.StoreDriver.
func OpenStore(cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// NewTokenService builds the token service from cfg.
func NewTokenService(cfg config.Config) (*auth.TokenService, error) {
	return auth.NewTokenService(cfg.AuthSecret,
		auth.WithAlgorithm(cfg.AuthAlgorithm),
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
	)
}

// Services bundles the domain services.
type Services struct {
	Store         Store
	Hasher        auth.PasswordHasher
	Tokens        *auth.TokenService
	Authorizer    *auth.Authorizer
	Directory     *auth.Directory
	Authenticator *auth.Authenticator
	Tasks         *tasks.Service
}

// Build constructs every service on top of store.
func Build(cfg config.Config, store Store) (*Services, error) {
	if store == nil {
		return nil, errors.New("app: store is required")
	}
	hasher, err := auth.NewPasswordHasher(cfg.PasswordScheme)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	authz, err := auth.NewAuthorizer(store, auth.WithPermissionCache(permissionCacheSize, cfg.AuthzCacheTTL))
	if err != nil {
		return nil, err
	}
	dir, err := auth.NewDirectory(store, hasher, authz, auth.WithDefaultRole(cfg.DefaultRole))
	if err != nil {
		return nil, err
	}
	login, err := auth.NewAuthenticator(store, hasher, tokens, authz, cfg.EmbedPermissions)
	if err != nil {
		return nil, err
	}
	taskSvc, err := tasks.NewService(store, store)
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:         store,
		Hasher:        hasher,
		Tokens:        tokens,
		Authorizer:    authz,
		Directory:     dir,
		Authenticator: login,
		Tasks:         taskSvc,
	}, nil
}

// Seed applies the configured catalog and logs what it created.
func (s *Services) Seed(ctx context.Context, catalog auth.Catalog) (auth.CatalogReport, error) {
	report, err := s.Directory.ApplyCatalog(ctx, catalog)
	if err != nil {
		return report, fmt.Errorf("apply catalog: %w", err)
	}
	obs.Logger().Info("catalog applied",
		zap.Int("permissions_created", report.PermissionsCreated),
		zap.Int("roles_created", report.RolesCreated),
		zap.Int("grants", report.Grants),
	)
	return report, nil
}

// InstallAuditSink forwards audit entries to Kafka when brokers are
// configured. The returned function closes the sink.
func InstallAuditSink(cfg config.Config) (func() error, error) {
	if len(cfg.AuditKafkaBrokers) == 0 {
		return func() error { return nil }, nil
	}
	kafkaSink, err := audit.NewKafkaSink(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic)
	if err != nil {
		return nil, err
	}
	sink := audit.NewForwarder(kafkaSink, auditQueueSize)
	audit.SetSink(sink)
	obs.Logger().Info("audit kafka sink enabled",
		zap.Strings("brokers", cfg.AuditKafkaBrokers),
		zap.String("topic", cfg.AuditKafkaTopic),
	)
	return func() error {
		audit.SetSink(nil)
		return sink.Close()
	}, nil
}
