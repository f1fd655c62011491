package peeradapter

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// NaclKeyDeriver derives a shared symmetric key from an owner's X25519
// secret key and a reader's X25519 public key via box.Precompute — the
// SEA-style "owner encrypts once per reader" scheme spec §4.C.2 describes,
// backed by a real curve25519 key agreement rather than a bespoke KDF.
// Keys are hex-encoded 32-byte X25519 keys.
type NaclKeyDeriver struct{}

func (NaclKeyDeriver) DeriveKey(ownerSecret, readerPublicKey string) ([]byte, error) {
	priv, err := decodeKey32(ownerSecret)
	if err != nil {
		return nil, fmt.Errorf("owner secret: %w", err)
	}
	pub, err := decodeKey32(readerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("reader public key: %w", err)
	}
	var shared [32]byte
	box.Precompute(&shared, pub, priv)
	return shared[:], nil
}

func decodeKey32(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}

// NaclCipher performs the symmetric seal/open half, once NaclKeyDeriver has
// produced a shared key, via secretbox (XSalsa20-Poly1305). A fresh random
// nonce is generated per Seal and prepended to the ciphertext, the
// convention secretbox's own docs recommend.
type NaclCipher struct{}

func (NaclCipher) Seal(key []byte, plaintext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secretbox key must be 32 bytes, got %d", len(key))
	}
	var keyArr [32]byte
	copy(keyArr[:], key)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 24, 24+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &keyArr), nil
}

func (NaclCipher) Open(key []byte, ciphertext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secretbox key must be 32 bytes, got %d", len(key))
	}
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("ciphertext too short to contain a nonce")
	}
	var keyArr [32]byte
	copy(keyArr[:], key)
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plain, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &keyArr)
	if !ok {
		return nil, fmt.Errorf("decryption failed: authentication mismatch")
	}
	return plain, nil
}
