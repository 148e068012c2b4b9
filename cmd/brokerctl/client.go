package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"brokerchain/crypto"
	"brokerchain/rpc"
)

// client posts JSON-RPC requests to brokerd.
type client struct {
	http  *resty.Client
	nowFn func() time.Time
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpc.RPCError   `json:"error"`
}

func newClient(opts *globalOptions) *client {
	rc := resty.New().
		SetHostURL(strings.TrimSuffix(opts.rpcURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if token := strings.TrimSpace(opts.bearer); token != "" {
		rc.SetAuthToken(token)
	}
	return &client{http: rc, nowFn: time.Now}
}

// do sends req and returns the raw result. Error replies come back as
// *rpc.RPCError whatever the HTTP status.
func (c *client) do(req *rpc.RPCRequest) (json.RawMessage, error) {
	var reply rpcReply
	res, err := c.http.R().SetBody(req).Post("/")
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return nil, fmt.Errorf("rpc: status %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return reply.Result, nil
}

func (c *client) query(method string, args []json.RawMessage) (json.RawMessage, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	return c.do(&rpc.RPCRequest{JSONRPC: "2.0", Method: method, Params: args, ID: uuid.NewString()})
}

// signed signs operation with every key under a fresh nonce.
func (c *client) signed(operation string, args []json.RawMessage, ttl time.Duration, keys []*crypto.PrivateKey) (json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s needs at least one --key", operation)
	}
	if args == nil {
		args = []json.RawMessage{}
	}
	call := rpc.SignedCall{
		Operation: operation,
		Args:      args,
		Nonce:     uuid.NewString(),
		ExpiresAt: c.nowFn().Add(ttl).Unix(),
	}
	req, err := rpc.SignRequest(call.Nonce, call, keys...)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// parseArgs turns command-line words into positional JSON arguments. Words
// that are valid JSON pass through; anything else becomes a JSON string.
func parseArgs(words []string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(words))
	for _, w := range words {
		trimmed := strings.TrimSpace(w)
		if trimmed != "" && json.Valid([]byte(trimmed)) {
			out = append(out, json.RawMessage(trimmed))
			continue
		}
		encoded, err := json.Marshal(w)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}
