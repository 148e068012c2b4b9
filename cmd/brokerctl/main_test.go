package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brokerchain/core"
	"brokerchain/core/events"
	"brokerchain/crypto"
	"brokerchain/native/custody"
	"brokerchain/rpc"
	"brokerchain/storage"
)

const testPassphrase = "brokerctl-test"

type fixture struct {
	url       string
	ownerFile string
	coordHex  string
	feeHex    string
}

func hexAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }

func writeKey(t *testing.T, dir, name string) (string, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(dir, name)
	if _, err := crypto.SaveToKeystore(path, key, testPassphrase); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	return path, key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv(defaultPassphraseEnv, testPassphrase)
	dir := t.TempDir()
	ownerFile, owner := writeKey(t, dir, "owner.json")
	coord, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	journal, err := storage.NewMemJournal()
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	node, err := core.NewNode(db, core.Options{
		Owner:          owner.PubKey().Address().Bytes20(),
		CustodyAddress: [20]byte{0xcc},
		Gateways:       custody.NewStaticResolver(nil),
		Emitter:        events.Multi{journal},
	})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	srv := rpc.NewServer(node, rpc.ServerConfig{})
	srv.SetJournal(journal)
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return &fixture{
		url:       httpSrv.URL,
		ownerFile: ownerFile,
		coordHex:  hexAddr(coord.PubKey().Address().Bytes20()),
		feeHex:    hexAddr([20]byte{0xfe}),
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseArgs(t *testing.T) {
	got, err := parseArgs([]string{"0xabc", "100", "true", `["1","2"]`, "brk1xyz", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{`"0xabc"`, `100`, `true`, `["1","2"]`, `"brk1xyz"`, `""`}
	for i, w := range want {
		if string(got[i]) != w {
			t.Fatalf("arg %d: got %s want %s", i, got[i], w)
		}
	}
}

func TestCallQueryAndExport(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--rpc", f.url, "query", "getState")
	if err != nil || !strings.Contains(out, "pending") {
		t.Fatalf("getState before initialize: %q err=%v", out, err)
	}

	if _, err := run(t, "--rpc", f.url, "call", "initialize", f.feeHex, f.coordHex, f.coordHex); err == nil {
		t.Fatalf("expected unsigned call to fail")
	}
	if _, err := run(t, "--rpc", f.url, "--key", f.ownerFile, "call", "initialize", f.feeHex, f.coordHex, f.coordHex); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	out, err = run(t, "--rpc", f.url, "query", "getState")
	if err != nil || !strings.Contains(out, "active") {
		t.Fatalf("getState after initialize: %q err=%v", out, err)
	}

	out, err = run(t, "--rpc", f.url, "events", "--from", "1")
	if err != nil || !strings.Contains(out, "broker.initialized") {
		t.Fatalf("events: %q err=%v", out, err)
	}

	target := filepath.Join(t.TempDir(), "events.jsonl")
	out, err = run(t, "--rpc", f.url, "export", "--format", "jsonl", "--out", target)
	if err != nil || !strings.Contains(out, "sha256=") {
		t.Fatalf("export: %q err=%v", out, err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "broker.initialized") {
		t.Fatalf("export missing initialize event: %s", data)
	}
}

func TestDeclinedCallSurfacesRPCError(t *testing.T) {
	f := newFixture(t)
	_, err := run(t, "--rpc", f.url, "--key", f.ownerFile, "call", "noSuchOperation")
	rpcErr, ok := err.(*rpc.RPCError)
	if !ok {
		t.Fatalf("expected rpc error, got %T %v", err, err)
	}
	if rpcErr.Code != -32601 {
		t.Fatalf("unexpected code %d", rpcErr.Code)
	}
}

func TestBootstrapPlan(t *testing.T) {
	f := newFixture(t)
	planFile := filepath.Join(t.TempDir(), "plan.yaml")
	plan := "calls:\n" +
		"  - operation: initialize\n" +
		"    args: [\"" + f.feeHex + "\", \"" + f.coordHex + "\", \"" + f.coordHex + "\"]\n" +
		"    signers: [\"" + f.ownerFile + "\"]\n" +
		"  - operation: initialize\n" +
		"    args: [\"" + f.feeHex + "\", \"" + f.coordHex + "\", \"" + f.coordHex + "\"]\n"
	if err := os.WriteFile(planFile, []byte(plan), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	out, err := run(t, "--rpc", f.url, "--key", f.ownerFile, "bootstrap", "--file", planFile, "--continue-on-error")
	if err == nil {
		t.Fatalf("second initialize must fail")
	}
	if !strings.Contains(out, "[0] initialize: ok") || !strings.Contains(out, "[1] initialize:") {
		t.Fatalf("unexpected bootstrap output %q", out)
	}
	if !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLoadPlanValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte("calls:\n  - args: [1]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadPlan(path); err == nil {
		t.Fatalf("expected missing operation error")
	}

	call := planCall{Operation: "deposit", Args: []interface{}{"0x01", 5, map[string]interface{}{"k": "v"}}}
	params, err := call.encodeArgs()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(params[2], &decoded); err != nil || decoded["k"] != "v" {
		t.Fatalf("unexpected map encoding %s", params[2])
	}
}

func TestKeysGenerateAndAddress(t *testing.T) {
	t.Setenv(defaultPassphraseEnv, testPassphrase)
	path := filepath.Join(t.TempDir(), "new.json")
	out, err := run(t, "keys", "generate", "--out", path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := strings.TrimSpace(out)
	if !strings.HasPrefix(addr, "brk1") {
		t.Fatalf("unexpected address %q", addr)
	}
	if _, err := run(t, "keys", "generate", "--out", path); !errors.Is(err, crypto.ErrKeystoreExists) {
		t.Fatalf("expected existing keystore to be kept, got %v", err)
	}
	// Reading the address needs no passphrase.
	os.Unsetenv(defaultPassphraseEnv)
	out, err = run(t, "keys", "address", path)
	if err != nil || !strings.HasPrefix(out, addr) {
		t.Fatalf("address: %q err=%v", out, err)
	}
}
