package protect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/vmsync/internal/ir"
)

// MinMasterKeySize is the minimum accepted master key length in bytes.
const MinMasterKeySize = 32

// HKDF purpose labels. Each sub-key is bound to one use.
const (
	labelSign    = "vmsync/key/sign/v1"
	labelEncrypt = "vmsync/key/encrypt/v1"
	labelKeyID   = "vmsync/key/id/v1"
)

// Key is one master key with its derived sub-keys.
type Key struct {
	id      string
	signKey []byte
	encKey  []byte
}

// NewKey derives sign and encrypt sub-keys from master.
func NewKey(master []byte) (*Key, error) {
	if len(master) < MinMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MinMasterKeySize, len(master))
	}
	signKey, err := derive(master, labelSign, 32)
	if err != nil {
		return nil, err
	}
	encKey, err := derive(master, labelEncrypt, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	sum := sha3.Sum256(ir.DomainInput(labelKeyID, master))
	return &Key{
		id:      hex.EncodeToString(sum[:4]),
		signKey: signKey,
		encKey:  encKey,
	}, nil
}

// ID is a short public fingerprint of the key, safe to log.
func (k *Key) ID() string {
	return k.id
}

func derive(master []byte, label string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(label)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", label, err)
	}
	return out, nil
}

// KeyRing holds the current key, used to protect, and retired keys that
// are still accepted when verifying or decrypting.
type KeyRing struct {
	current *Key
	retired []*Key
}

// NewKeyRing builds a ring from the current master key and any retired ones.
func NewKeyRing(master []byte, retired ...[]byte) (*KeyRing, error) {
	cur, err := NewKey(master)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}
	kr := &KeyRing{current: cur}
	for i, m := range retired {
		k, err := NewKey(m)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		kr.retired = append(kr.retired, k)
	}
	return kr, nil
}

// Current returns the key used for new envelopes.
func (kr *KeyRing) Current() *Key {
	return kr.current
}

// all returns the current key followed by retired keys.
func (kr *KeyRing) all() []*Key {
	return append([]*Key{kr.current}, kr.retired...)
}
