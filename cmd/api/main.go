package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"taskgate.dev/internal/app"
	"taskgate.dev/internal/config"
	"taskgate.dev/internal/httpapi"
	"taskgate.dev/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal("taskgate api stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer obs.SetLogger(logger)()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc, err := app.Build(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The embedded store has no separate migrate step, so it seeds on start.
	if cfg.StoreDriver == config.DriverSQLite {
		if _, err := svc.Seed(ctx, cfg.Policy.Catalog); err != nil {
			return err
		}
	}

	closeAudit, err := app.InstallAuditSink(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeAudit() }()

	ready := httpapi.ReadyProbe{Store: store}
	api, err := httpapi.New(httpapi.Deps{
		Tokens:        svc.Tokens,
		Authenticator: svc.Authenticator,
		Authorizer:    svc.Authorizer,
		Directory:     svc.Directory,
		Tasks:         svc.Tasks,
		Ready:         ready,
	}, httpapi.Options{
		Version:            version,
		Policy:             cfg.Policy.RoutePolicy(),
		RevalidateIdentity: cfg.RevalidateIdentity,
		RateBurst:          cfg.RateLimitBurst,
		RatePerSec:         cfg.RateLimitRPS,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		TrustedProxies:     cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(ready)
	grpcSrv := httpapi.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Watch(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	obs.SetReady(false)
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
