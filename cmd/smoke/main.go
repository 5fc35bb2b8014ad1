package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"taskgate.dev/internal/httpapi"
	"taskgate.dev/internal/ids"
	"taskgate.dev/internal/obs"
)

func main() {
	httpBase := strings.TrimRight(envOr("TASKGATE_HTTP_URL", "http://localhost:8080"), "/")
	grpcAddr := envOr("TASKGATE_GRPC_ADDR", "localhost:9090")
	log := obs.Logger()
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := checkGRPCHealth(ctx, grpcAddr); err != nil {
		log.Fatal("grpc health", zap.String("addr", grpcAddr), zap.Error(err))
	}

	c := client{base: httpBase, http: &http.Client{Timeout: 5 * time.Second}}
	email := "smoke-" + strings.ToLower(ids.New()) + "@example.com"
	password := "smoke-password"

	var created struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := c.call(ctx, http.MethodPost, "/users", "", map[string]any{
		"first_name": "Smoke",
		"last_name":  "Test",
		"email":      email,
		"password":   password,
	}, http.StatusCreated, &created); err != nil {
		log.Fatal("register", zap.Error(err))
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.call(ctx, http.MethodPost, "/users/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK, &token); err != nil {
		log.Fatal("login", zap.Error(err))
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodGet, "/users/me", token.AccessToken, nil, http.StatusOK, &me); err != nil {
		log.Fatal("me", zap.Error(err))
	}
	if me.ID != created.ID {
		log.Fatal("identity mismatch", zap.String("registered", created.ID), zap.String("me", me.ID))
	}

	if err := c.call(ctx, http.MethodGet, "/users/me", "", nil, http.StatusUnauthorized, nil); err != nil {
		log.Fatal("anonymous me", zap.Error(err))
	}

	log.Info("smoke test passed", zap.String("user_id", created.ID), zap.String("role", created.Role))
}

func checkGRPCHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: httpapi.GRPCServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

func (c client) call(ctx context.Context, method, path, token string, body any, want int, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
