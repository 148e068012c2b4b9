package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"

	"brokerchain/core"
	"brokerchain/core/events"
	"brokerchain/crypto"
	"brokerchain/native/custody"
	"brokerchain/native/ledger"
	"brokerchain/storage"
)

type acceptingGateway struct{}

func (acceptingGateway) Transfer(context.Context, [20]byte, [20]byte, [20]byte, *big.Int) error {
	return nil
}

func (acceptingGateway) TransferFrom(context.Context, [20]byte, [20]byte, [20]byte, [20]byte, *big.Int) error {
	return nil
}

func (acceptingGateway) TransferFromNonStandard(context.Context, [20]byte, [20]byte, [20]byte, *big.Int) error {
	return nil
}

type harness struct {
	srv     *Server
	node    *core.Node
	hub     *events.Hub
	journal *storage.Journal
	owner   *crypto.PrivateKey
	coord   *crypto.PrivateKey
	trader  *crypto.PrivateKey
	fee     [20]byte
	nonce   int
}

var testToken = ledger.TokenAsset([20]byte{0x7a})

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func keyAddr(k *crypto.PrivateKey) [20]byte {
	return k.PubKey().Address().Bytes20()
}

func hexAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }

func newHarness(t *testing.T, cfg ServerConfig) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	journal, err := storage.NewMemJournal()
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	hub := events.NewHub()

	h := &harness{
		hub:     hub,
		journal: journal,
		owner:   mustKey(t),
		coord:   mustKey(t),
		trader:  mustKey(t),
		fee:     [20]byte{0xfe},
	}
	node, err := core.NewNode(db, core.Options{
		Owner:          keyAddr(h.owner),
		CustodyAddress: [20]byte{0xcc},
		Gateways:       custody.NewStaticResolver(acceptingGateway{}),
		Emitter:        events.Multi{journal, hub},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	h.node = node
	h.srv = NewServer(node, cfg)
	h.srv.SetEventHub(hub)
	h.srv.SetJournal(journal)
	return h
}

func params(t *testing.T, vals ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		out = append(out, b)
	}
	return out
}

func (h *harness) signed(t *testing.T, op string, args []json.RawMessage, keys ...*crypto.PrivateKey) *RPCRequest {
	t.Helper()
	h.nonce++
	req, err := SignRequest(h.nonce, SignedCall{
		Operation: op,
		Args:      args,
		Nonce:     "n-" + hex.EncodeToString([]byte{byte(h.nonce)}),
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}, keys...)
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	return req
}

func (h *harness) post(t *testing.T, body interface{}, header http.Header) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case []byte:
		payload = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = encoded
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	var resp RPCResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	args := params(t, hexAddr(h.fee), hexAddr(keyAddr(h.coord)), hexAddr(keyAddr(h.coord)))
	rec, resp := h.post(t, h.signed(t, "initialize", args, h.owner), nil)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("initialize failed: %d %+v", rec.Code, resp.Error)
	}
}

func query(method string, args []json.RawMessage) *RPCRequest {
	return &RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: args, ID: 1}
}

func TestQueriesNeedNoSignatures(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	rec, resp := h.post(t, query("getState", nil), nil)
	if rec.Code != http.StatusOK || resp.Result != "pending" {
		t.Fatalf("unexpected state response: %d %+v", rec.Code, resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestSignedOperationsSettle(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t)

	_, resp := h.post(t, query("getState", nil), nil)
	if resp.Result != "active" {
		t.Fatalf("expected active broker, got %+v", resp)
	}

	trader := keyAddr(h.trader)
	deposit := params(t, hexAddr(trader), testToken.String(), "500")
	rec, resp := h.post(t, h.signed(t, "deposit", deposit, h.trader, h.coord), nil)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit failed: %d %+v", rec.Code, resp.Error)
	}

	_, resp = h.post(t, query("getBalance", params(t, hexAddr(trader), testToken.String())), nil)
	if resp.Result != "500" {
		t.Fatalf("unexpected balance: %+v", resp)
	}
}

func TestReplayedRequestRejected(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t)

	trader := keyAddr(h.trader)
	req := h.signed(t, "deposit", params(t, hexAddr(trader), testToken.String(), "10"), h.trader, h.coord)
	if rec, resp := h.post(t, req, nil); rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("first submission failed: %d %+v", rec.Code, resp.Error)
	}
	rec, resp := h.post(t, req, nil)
	if rec.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeDuplicateRequest {
		t.Fatalf("expected duplicate rejection, got %d %+v", rec.Code, resp.Error)
	}
	_, resp = h.post(t, query("getBalance", params(t, hexAddr(trader), testToken.String())), nil)
	if resp.Result != "10" {
		t.Fatalf("replay must not credit twice: %+v", resp)
	}
}

func TestAuthenticationFailures(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	args := params(t, hexAddr(h.fee), hexAddr(keyAddr(h.coord)), hexAddr(keyAddr(h.coord)))

	rec, resp := h.post(t, query("initialize", args), nil)
	if rec.Code != http.StatusUnauthorized || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unsigned call rejection, got %d %+v", rec.Code, resp.Error)
	}

	expired, err := SignRequest(1, SignedCall{
		Operation: "initialize",
		Args:      args,
		Nonce:     "old",
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}, h.owner)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec, _ := h.post(t, expired, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired request rejection, got %d", rec.Code)
	}

	tampered := h.signed(t, "initialize", args, h.owner)
	tampered.Params = params(t, hexAddr([20]byte{0x01}), hexAddr(keyAddr(h.coord)), hexAddr(keyAddr(h.coord)))
	rec, resp = h.post(t, tampered, nil)
	if rec.Code != http.StatusOK || resp.Error == nil || resp.Error.Code != codeDeclined {
		t.Fatalf("tampered params must not carry the owner's signature: %d %+v", rec.Code, resp.Error)
	}

	rec, resp = h.post(t, h.signed(t, "initialize", args, h.trader), nil)
	if resp.Error == nil || resp.Error.Code != codeDeclined || !strings.Contains(resp.Error.Message, "owner") {
		t.Fatalf("expected owner-only decline, got %d %+v", rec.Code, resp.Error)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t)

	args := params(t, hexAddr(h.fee), hexAddr(keyAddr(h.coord)), hexAddr(keyAddr(h.coord)))
	rec, resp := h.post(t, h.signed(t, "initialize", args, h.owner), nil)
	if rec.Code != http.StatusOK || resp.Error == nil || resp.Error.Code != codeDeclined {
		t.Fatalf("expected decline for second initialize, got %d %+v", rec.Code, resp.Error)
	}

	rec, resp = h.post(t, query("getBalance", params(t, hexAddr(h.fee))), nil)
	if rec.Code != http.StatusBadRequest || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %d %+v", rec.Code, resp.Error)
	}

	rec, resp = h.post(t, query("mint", nil), nil)
	if rec.Code != http.StatusNotFound || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %d %+v", rec.Code, resp.Error)
	}

	rec, resp = h.post(t, []byte("{not json"), nil)
	if rec.Code != http.StatusBadRequest || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %d %+v", rec.Code, resp.Error)
	}

	_, resp = h.post(t, query(methodOperations, nil), nil)
	ops, ok := resp.Result.([]interface{})
	if !ok || len(ops) != len(core.Operations()) {
		t.Fatalf("unexpected operations listing: %+v", resp.Result)
	}
}

func TestBearerTokenRequiredWhenConfigured(t *testing.T) {
	const secret = "rpc-test-secret"
	h := newHarness(t, ServerConfig{JWTSecret: secret, JWTIssuer: "ops"})
	args := params(t, hexAddr(h.fee), hexAddr(keyAddr(h.coord)), hexAddr(keyAddr(h.coord)))

	rec, _ := h.post(t, h.signed(t, "initialize", args, h.owner), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing bearer rejection, got %d", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	header := http.Header{"Authorization": []string{"Bearer " + signed}}
	rec, resp := h.post(t, h.signed(t, "initialize", args, h.owner), header)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected authorized call, got %d %+v", rec.Code, resp.Error)
	}

	if rec, _ := h.post(t, query("getState", nil), nil); rec.Code != http.StatusOK {
		t.Fatalf("queries should not need a bearer token, got %d", rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	h := newHarness(t, ServerConfig{RequestsPerMinute: 1, Burst: 1})
	if rec, _ := h.post(t, query("getState", nil), nil); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec, resp := h.post(t, query("getState", nil), nil)
	if rec.Code != http.StatusTooManyRequests || resp.Error.Code != codeRateLimited {
		t.Fatalf("expected throttle, got %d %+v", rec.Code, resp.Error)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	h := newHarness(t, ServerConfig{MaxRequestBytes: 64})
	oversized := query("getBalances", params(t, strings.Repeat("a", 128)))
	rec, resp := h.post(t, oversized, nil)
	if rec.Code != http.StatusRequestEntityTooLarge || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected body limit rejection, got %d %+v", rec.Code, resp.Error)
	}
}

func TestEventsJournalAndStream(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t)

	_, resp := h.post(t, query(methodEvents, params(t, 1, 50)), nil)
	page, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected events result: %+v", resp)
	}
	entries, _ := page["events"].([]interface{})
	if len(entries) == 0 {
		t.Fatalf("expected journaled events")
	}

	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?from=1&prefix=broker."
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var view EventView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if view.Type != "broker.initialized" || view.Seq == 0 {
		t.Fatalf("unexpected first event: %+v", view)
	}
}
