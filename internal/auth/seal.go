package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

var ErrSealed = errors.New("cannot open sealed token")

// KeyPair is the per-connection curve25519 key pair. Clients seal their
// login token to PublicKey so it never crosses the wire in the clear.
type KeyPair struct {
	PublicKey  *[32]byte
	PrivateKey *[32]byte
}

// GenerateKeyPair creates a fresh key pair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyString returns the base64 public key sent to the client
func (k *KeyPair) PublicKeyString() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey[:])
}

// Open decrypts a base64 anonymous box produced by Seal
func (k *KeyPair) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealed
	}
	out, ok := box.OpenAnonymous(nil, raw, k.PublicKey, k.PrivateKey)
	if !ok {
		return "", ErrSealed
	}
	return string(out), nil
}

// Seal encrypts a token to a base64 public key. Used by tooling and tests
// acting as a client.
func Seal(token, publicKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(raw) != 32 {
		return "", errors.New("invalid public key")
	}
	var pub [32]byte
	copy(pub[:], raw)
	out, err := box.SealAnonymous(nil, []byte(token), &pub, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
