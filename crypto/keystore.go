package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrKeystoreExists   = errors.New("crypto: keystore already exists")
	ErrKeystoreMismatch = errors.New("crypto: keystore address does not match its key")
)

// keystoreHeader is the unencrypted part of a v3 keystore.
type keystoreHeader struct {
	Address string `json:"address"`
}

// SaveToKeystore encrypts key into a new v3 keystore at path and returns the
// broker address it signs for. Existing files are never overwritten.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) (Address, error) {
	if key == nil || key.PrivateKey == nil {
		return Address{}, errors.New("crypto: nil private key")
	}
	if path == "" {
		return Address{}, errors.New("crypto: empty keystore path")
	}
	if _, err := os.Stat(path); err == nil {
		return Address{}, fmt.Errorf("%w: %s", ErrKeystoreExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Address{}, fmt.Errorf("crypto: keystore %s: %w", path, err)
	}

	addr := key.PubKey().Address()
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    ethcommon.BytesToAddress(addr.Bytes()),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: encrypt keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Address{}, fmt.Errorf("crypto: keystore dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return Address{}, fmt.Errorf("crypto: keystore temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return Address{}, fmt.Errorf("crypto: write keystore: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return Address{}, fmt.Errorf("crypto: keystore permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Address{}, fmt.Errorf("crypto: write keystore: %w", err)
	}
	// Link fails if path appeared meanwhile, which keeps the no-overwrite rule.
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Address{}, fmt.Errorf("%w: %s", ErrKeystoreExists, path)
		}
		return Address{}, fmt.Errorf("crypto: install keystore: %w", err)
	}
	return addr, nil
}

// KeystoreAddress reads the broker address recorded in a keystore without
// decrypting it.
func KeystoreAddress(path string) (Address, error) {
	raw, err := readKeystore(path)
	if err != nil {
		return Address{}, err
	}
	var header keystoreHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: keystore %s: %w", path, err)
	}
	if !ethcommon.IsHexAddress(header.Address) {
		return Address{}, fmt.Errorf("crypto: keystore %s: missing address", path)
	}
	return FromBytes20(ethcommon.HexToAddress(header.Address)), nil
}

// LoadFromKeystore decrypts the keystore at path. A keystore whose recorded
// address is not derived from its key is rejected.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	raw, err := readKeystore(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: keystore %s: %w", path, err)
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}

	var header keystoreHeader
	if err := json.Unmarshal(raw, &header); err == nil && header.Address != "" {
		recorded := ethcommon.HexToAddress(header.Address)
		if [AddressLength]byte(recorded) != key.PubKey().Address().Bytes20() {
			return nil, fmt.Errorf("%w: %s", ErrKeystoreMismatch, path)
		}
	}
	return key, nil
}

func readKeystore(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	return raw, nil
}
