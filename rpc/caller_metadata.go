package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"brokerchain/crypto"
)

const (
	defaultMaxAuthTTL = 15 * time.Minute
	expirySkew        = 5 * time.Second
	maxNonceLength    = 128
)

// authenticate verifies the request's signatures and returns the recovered
// signer set. The request digest is remembered until the request expires so a
// signed call executes at most once.
func (s *Server) authenticate(req *RPCRequest) (crypto.SignerSet, *RPCError) {
	auth := req.Auth
	if auth == nil || len(auth.Signatures) == 0 {
		return nil, &RPCError{Code: codeUnauthorized, Message: "signatures required"}
	}
	nonce := strings.TrimSpace(auth.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return nil, &RPCError{Code: codeUnauthorized, Message: "nonce required"}
	}
	now := s.nowFn()
	expiry, err := parseExpiry(now, auth.ExpiresAt, s.cfg.MaxAuthTTL)
	if err != nil {
		return nil, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}

	call := SignedCall{Operation: req.Method, Args: req.Params, Nonce: nonce, ExpiresAt: auth.ExpiresAt}
	digest, err := call.Digest()
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unable to encode request", Data: err.Error()}
	}
	sigs := make([][]byte, 0, len(auth.Signatures))
	for i, raw := range auth.Signatures {
		sig, err := decodeSignature(raw)
		if err != nil {
			return nil, &RPCError{Code: codeUnauthorized, Message: fmt.Sprintf("signature %d: %v", i, err)}
		}
		sigs = append(sigs, sig)
	}
	signers, err := crypto.RecoverSignerSet(digest, sigs)
	if err != nil {
		return nil, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	if !s.rememberDigest(hex.EncodeToString(digest), expiry, now) {
		return nil, &RPCError{Code: codeDuplicateRequest, Message: "request already submitted"}
	}
	return signers, nil
}

func parseExpiry(now time.Time, expiresAt int64, maxTTL time.Duration) (time.Time, error) {
	if expiresAt <= 0 {
		return time.Time{}, fmt.Errorf("expiresAt must be positive")
	}
	if maxTTL <= 0 {
		maxTTL = defaultMaxAuthTTL
	}
	expiry := time.Unix(expiresAt, 0)
	if expiry.Before(now.Add(-expirySkew)) {
		return time.Time{}, fmt.Errorf("request expired")
	}
	if expiry.After(now.Add(maxTTL)) {
		return time.Time{}, fmt.Errorf("expiry exceeds maximum ttl of %s", maxTTL)
	}
	return expiry, nil
}

func (s *Server) rememberDigest(digest string, expiry, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for d, expires := range s.seen {
		if now.After(expires.Add(expirySkew)) {
			delete(s.seen, d)
		}
	}
	if _, exists := s.seen[digest]; exists {
		return false
	}
	s.seen[digest] = expiry
	return true
}
