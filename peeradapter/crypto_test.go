package peeradapter

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

func generateKeypair(t *testing.T) (pub, priv string) {
	t.Helper()
	p, s, err := box.GenerateKey(nil)
	require.NoError(t, err)
	return hex.EncodeToString(p[:]), hex.EncodeToString(s[:])
}

func TestNaclKeyDeriverAgreesFromBothSides(t *testing.T) {
	ownerPub, ownerPriv := generateKeypair(t)
	readerPub, readerPriv := generateKeypair(t)

	kd := NaclKeyDeriver{}
	ownerSide, err := kd.DeriveKey(ownerPriv, readerPub)
	require.NoError(t, err)
	readerSide, err := kd.DeriveKey(readerPriv, ownerPub)
	require.NoError(t, err)

	assert.Equal(t, ownerSide, readerSide)
}

func TestNaclCipherRoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c := NaclCipher{}
	ciphertext, err := c.Seal(key, []byte("secret payload"))
	require.NoError(t, err)

	plain, err := c.Open(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(plain))
}

func TestNaclCipherOpenFailsOnTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	c := NaclCipher{}
	ciphertext, err := c.Seal(key, []byte("data"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = c.Open(key, ciphertext)
	assert.Error(t, err)
}
