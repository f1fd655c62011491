package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// nodeKeys is the one operator-configured secret this node signs and
// encrypts with: a 32-byte seed doubling as both the ed25519 signing seed
// and the X25519 secret peeradapter's NaclKeyDeriver uses for private
// peer-graph writes.
type nodeKeys struct {
	hexSecret  string // 32-byte X25519 secret, hex-encoded, as peeradapter expects
	hexPublic  string // the matching X25519 public key, hex-encoded
	signingKey ed25519.PrivateKey
}

// loadNodeKeys reads a 32-byte hex-encoded seed from path. An empty path is
// valid — it means this node never signs or writes to the private peer
// graph, only reads and indexes.
func loadNodeKeys(path string) (*nodeKeys, error) {
	if path == "" {
		return &nodeKeys{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	seedHex := strings.TrimSpace(string(raw))
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != 32 {
		return nil, fmt.Errorf("private key file must contain a 32-byte hex-encoded seed")
	}

	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving X25519 public key: %w", err)
	}

	return &nodeKeys{
		hexSecret:  seedHex,
		hexPublic:  hex.EncodeToString(pub),
		signingKey: ed25519.NewKeyFromSeed(seed),
	}, nil
}
