package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brokerchain/config"
	"brokerchain/native/custody"
	"brokerchain/native/ledger"
)

func tokenHex(b byte) string {
	var token [20]byte
	token[19] = b
	return "0x" + ledger.TokenAsset(token).String()
}

func TestBuildGatewaysWithoutBaseURL(t *testing.T) {
	cfg := config.Default()
	resolver, err := buildGateways(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var token [20]byte
	token[19] = 1
	if _, _, err := resolver.Resolve(ledger.TokenAsset(token)); !errors.Is(err, custody.ErrNoGateway) {
		t.Fatalf("expected no gateway, got %v", err)
	}
}

func TestBuildGatewaysRoutesConfiguredTokens(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if got := r.Header.Get("Authorization"); got != "Bearer gw-secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()
	t.Setenv("BROKER_GATEWAY_TOKEN", "gw-secret")

	cfg := config.Default()
	cfg.Gateway.BaseURL = server.URL
	cfg.Gateway.APITokenEnv = "BROKER_GATEWAY_TOKEN"
	cfg.Gateway.Tokens = []string{tokenHex(7)}
	resolver, err := buildGateways(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var token [20]byte
	token[19] = 7
	gw, resolved, err := resolver.Resolve(ledger.TokenAsset(token))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != token {
		t.Fatalf("unexpected token %x", resolved)
	}
	if err := gw.Transfer(context.Background(), token, [20]byte{1}, [20]byte{2}, big.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one gateway call, got %d", hits)
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	s, err := buildSinks(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(s.emitters) != 0 {
		t.Fatalf("expected no sinks by default")
	}
	s.Close()

	cfg.Webhooks.URL = "http://127.0.0.1:1/hooks"
	cfg.Webhooks.SecretEnv = "BROKER_WEBHOOK_SECRET_UNSET"
	if _, err := buildSinks(cfg, slog.Default()); err == nil || !strings.Contains(err.Error(), "not set") {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	t.Setenv("BROKER_WEBHOOK_SECRET", "hook")
	cfg.Webhooks.SecretEnv = "BROKER_WEBHOOK_SECRET"
	s, err = buildSinks(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer s.Close()
	if len(s.emitters) != 1 {
		t.Fatalf("expected webhook sink, got %d", len(s.emitters))
	}
}

func TestSecretFromEnv(t *testing.T) {
	t.Setenv("BROKER_TEST_SECRET", "  value ")
	if got := secretFromEnv("BROKER_TEST_SECRET"); got != "value" {
		t.Fatalf("unexpected secret %q", got)
	}
	if got := secretFromEnv(""); got != "" {
		t.Fatalf("expected empty secret")
	}
}
