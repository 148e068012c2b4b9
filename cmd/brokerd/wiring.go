package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"brokerchain/config"
	"brokerchain/core/events"
	"brokerchain/integrations/natsbus"
	"brokerchain/integrations/webhooks"
	"brokerchain/native/custody"
)

// buildGateways routes every configured token through the HTTP transfer
// gateway. With no base URL the resolver serves nothing and token deposits
// are declined.
func buildGateways(cfg *config.Config, logger *slog.Logger) (*custody.StaticResolver, error) {
	resolver := custody.NewStaticResolver(nil)
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		return resolver, nil
	}
	tokens, err := cfg.GatewayTokens()
	if err != nil {
		return nil, err
	}
	gw := custody.NewHTTPGateway(custody.HTTPGatewayConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		Timeout:    time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		RetryCount: cfg.Gateway.RetryCount,
		AuthToken:  secretFromEnv(cfg.Gateway.APITokenEnv),
	}, logger)
	for _, asset := range tokens {
		token, _ := asset.Token()
		resolver.Register(token, gw)
	}
	logger.Info("token gateway configured",
		slog.String("baseURL", cfg.Gateway.BaseURL),
		slog.Int("tokens", len(tokens)))
	return resolver, nil
}

// sinks holds the optional outbound event publishers.
type sinks struct {
	emitters []events.Emitter
	closers  []func()
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildSinks(cfg *config.Config, logger *slog.Logger) (*sinks, error) {
	out := &sinks{}
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		conn, err := natsbus.Connect(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		publisher, err := natsbus.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		out.emitters = append(out.emitters, publisher)
		out.closers = append(out.closers, conn.Close, publisher.Close)
	}
	if strings.TrimSpace(cfg.Webhooks.URL) != "" {
		secret := secretFromEnv(cfg.Webhooks.SecretEnv)
		if secret == "" {
			out.Close()
			return nil, fmt.Errorf("webhooks: %s is not set", cfg.Webhooks.SecretEnv)
		}
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhooks.URL, []byte(secret),
			webhooks.WithLogger(logger),
			webhooks.WithTypePrefixes(cfg.Webhooks.TypePrefixes...),
			webhooks.WithRetryPolicy(cfg.Webhooks.MaxAttempts, 0, 0),
		)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.emitters = append(out.emitters, dispatcher)
		out.closers = append(out.closers, dispatcher.Close)
	}
	return out, nil
}

func secretFromEnv(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
