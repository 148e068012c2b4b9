package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"brokerchain/core"
	"brokerchain/crypto"
)

// RPCRequest is a JSON-RPC 2.0 call. The method is a broker operation name
// and params are its positional arguments. Mutating operations carry Auth.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
	Auth    *RequestAuth      `json:"auth,omitempty"`
}

// RequestAuth carries the signatures authorizing a mutating call. Each
// signature covers the SignedCall digest built from the method, params,
// nonce and expiry.
type RequestAuth struct {
	Nonce      string   `json:"nonce"`
	ExpiresAt  int64    `json:"expiresAt"`
	Signatures []string `json:"signatures"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// SignedCall is the canonical payload every signer of a request signs.
type SignedCall struct {
	Operation string            `json:"operation"`
	Args      []json.RawMessage `json:"args"`
	Nonce     string            `json:"nonce"`
	ExpiresAt int64             `json:"expiresAt"`
}

// Digest returns the request digest covered by the signatures.
func (c SignedCall) Digest() ([]byte, error) {
	if c.Args == nil {
		c.Args = []json.RawMessage{}
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return crypto.RequestDigest(payload), nil
}

// Call converts the signed payload into the dispatcher's call.
func (c SignedCall) Call() core.Call {
	return core.Call{Operation: c.Operation, Args: c.Args}
}

// SignRequest signs call with every key and attaches the result to a new
// request. brokerctl and tests build requests through it.
func SignRequest(id interface{}, call SignedCall, keys ...*crypto.PrivateKey) (*RPCRequest, error) {
	digest, err := call.Digest()
	if err != nil {
		return nil, err
	}
	sigs := make([]string, 0, len(keys))
	for _, key := range keys {
		sig, err := key.Sign(digest)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, "0x"+hex.EncodeToString(sig))
	}
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  call.Operation,
		Params:  call.Args,
		ID:      id,
		Auth: &RequestAuth{
			Nonce:      call.Nonce,
			ExpiresAt:  call.ExpiresAt,
			Signatures: sigs,
		},
	}, nil
}

func decodeSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signature is not hex")
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	return sig, nil
}

// EventView is the websocket rendering of a published event.
type EventView struct {
	Seq        uint64            `json:"seq,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
