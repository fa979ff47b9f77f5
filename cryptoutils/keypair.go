package cryptoutils

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/token-provisioner/interfaces"
)

// Keypair is an ed25519 signing credential loaded from a keypair file.
type Keypair struct {
	Path    string
	private ed25519.PrivateKey
}

// LoadKeypair reads a keypair file holding a JSON array of 64 bytes: the
// 32-byte seed followed by the 32-byte public key.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file: %w", err)
	}

	kp, err := ParseKeypair(data)
	if err != nil {
		return nil, fmt.Errorf("invalid keypair file %s: %w", path, err)
	}
	kp.Path = path
	return kp, nil
}

// ParseKeypair decodes the JSON byte-array keypair format.
func ParseKeypair(data []byte) (*Keypair, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("expected a JSON array of bytes: %w", err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", ed25519.PrivateKeySize, len(ints))
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, errors.New("public key does not match seed")
	}

	return &Keypair{private: derived}, nil
}

// GenerateKeypair creates a random keypair. Used for tests and local networks.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Keypair{private: priv}, nil
}

// Identity returns the base58 public key.
func (k *Keypair) Identity() interfaces.Identity {
	id, _ := interfaces.NewIdentityFromPubkey(k.PublicKey())
	return id
}

// PublicKey returns the raw 32-byte public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// MarshalJSON encodes the keypair in the same byte-array format LoadKeypair reads.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}
