// Package store persists chat platform credentials. Bot tokens are
// encrypted with AES-256-GCM under a key derived from the operator's
// passphrase before they touch the database.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize  = 32
	saltSize = 16

	// keyIterations is the PBKDF2 round count. The key is derived per
	// call, which only a handful of credentials ever pay for.
	keyIterations = 100_000
)

var (
	ErrEmptyPassphrase   = errors.New("encryption passphrase must not be empty")
	ErrInvalidCiphertext = errors.New("invalid or tampered ciphertext")
)

// deriveKey stretches the passphrase into an AES-256 key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, keyIterations, keySize, sha256.New)
}

// EncryptToken encrypts a token with AES-256-GCM. The key is derived from
// the passphrase under a fresh random salt, and the result is
// base64(salt || nonce || ciphertext).
func EncryptToken(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.Wrap(err, "failed to generate salt")
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "failed to create gcm")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptToken reverses EncryptToken. A wrong passphrase and a tampered
// ciphertext are indistinguishable; both return ErrInvalidCiphertext.
func DecryptToken(encoded, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(ErrInvalidCiphertext, "not base64")
	}
	if len(raw) < saltSize {
		return "", ErrInvalidCiphertext
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "failed to create gcm")
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
