package custody

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPGatewayConfig configures the REST token gateway.
type HTTPGatewayConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	AuthToken  string
}

// HTTPGateway forwards token transfers to an external settlement service.
type HTTPGateway struct {
	client *resty.Client
	logger *slog.Logger
}

type transferRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPGateway builds a resty-backed gateway.
func NewHTTPGateway(cfg HTTPGatewayConfig, logger *slog.Logger) *HTTPGateway {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	if url := strings.TrimSuffix(cfg.BaseURL, "/"); url != "" {
		client.SetHostURL(url)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}
	if cfg.RetryCount > 0 {
		client.
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(100 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() >= 500)
			})
	}
	client.SetHeader("Content-Type", "application/json")
	return &HTTPGateway{client: client, logger: logger}
}

// Client exposes the underlying resty client.
func (g *HTTPGateway) Client() *resty.Client { return g.client }

func hexAddr(b [20]byte) string { return "0x" + hex.EncodeToString(b[:]) }

func (g *HTTPGateway) post(ctx context.Context, path string, body transferRequest) error {
	var out transferResponse
	res, err := g.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetResult(&out).
		Post(path)
	if err != nil {
		return fmt.Errorf("custody: gateway %s: %w", path, err)
	}
	if res.IsError() {
		return fmt.Errorf("custody: gateway %s returned %d: %s", path, res.StatusCode(), strings.TrimSpace(res.String()))
	}
	if !out.Success {
		g.logger.Warn("token transfer rejected",
			slog.String("path", path),
			slog.String("token", body.Token),
			slog.String("reason", out.Error))
		return ErrTransferRejected
	}
	g.logger.Debug("token transfer accepted", slog.String("path", path), slog.String("txId", out.TxID))
	return nil
}

// Transfer implements TokenTransferGateway.
func (g *HTTPGateway) Transfer(ctx context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error {
	return g.post(ctx, "/tokens/transfer", transferRequest{
		Token: hexAddr(token), From: hexAddr(from), To: hexAddr(to), Amount: amount.String(),
	})
}

// TransferFrom implements TokenTransferGateway.
func (g *HTTPGateway) TransferFrom(ctx context.Context, token [20]byte, spender, from, to [20]byte, amount *big.Int) error {
	return g.post(ctx, "/tokens/transferFrom", transferRequest{
		Token: hexAddr(token), Spender: hexAddr(spender), From: hexAddr(from), To: hexAddr(to), Amount: amount.String(),
	})
}

// TransferFromNonStandard implements TokenTransferGateway.
func (g *HTTPGateway) TransferFromNonStandard(ctx context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error {
	return g.post(ctx, "/tokens/transferFromNonStandard", transferRequest{
		Token: hexAddr(token), From: hexAddr(from), To: hexAddr(to), Amount: amount.String(),
	})
}
