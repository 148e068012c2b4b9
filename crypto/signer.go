package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = 65

var errBadSignature = errors.New("crypto: malformed signature")

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// RequestDigest returns the keccak256 digest a client signs to authorize a
// broker request. The payload is the canonical JSON encoding of the call.
func RequestDigest(payload []byte) []byte {
	prefix := []byte(fmt.Sprintf("brokerchain request:%d:", len(payload)))
	return crypto.Keccak256(prefix, payload)
}

// Sign produces a recoverable signature over digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverAddress returns the account that produced sig over digest.
func RecoverAddress(digest, sig []byte) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	if len(sig) != SignatureLength {
		return out, errBadSignature
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return out, fmt.Errorf("crypto: recover signer: %w", err)
	}
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}

// SignerSet is the authenticated caller set of one operation: every address
// whose signature over the request verified.
type SignerSet map[[AddressLength]byte]struct{}

// NewSignerSet builds a set from the supplied addresses.
func NewSignerSet(addrs ...[AddressLength]byte) SignerSet {
	set := make(SignerSet, len(addrs))
	for _, addr := range addrs {
		set[addr] = struct{}{}
	}
	return set
}

// RecoverSignerSet recovers every signature over digest. Any malformed
// signature fails the whole set.
func RecoverSignerSet(digest []byte, sigs [][]byte) (SignerSet, error) {
	set := make(SignerSet, len(sigs))
	for i, sig := range sigs {
		addr, err := RecoverAddress(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		set[addr] = struct{}{}
	}
	return set, nil
}

// IsAuthorizedBy reports whether addr signed the request.
func (s SignerSet) IsAuthorizedBy(addr [AddressLength]byte) bool {
	if s == nil {
		return false
	}
	_, ok := s[addr]
	return ok
}

// Addresses returns the signers in no particular order.
func (s SignerSet) Addresses() [][AddressLength]byte {
	out := make([][AddressLength]byte, 0, len(s))
	for addr := range s {
		out = append(out, addr)
	}
	return out
}
