// Package secretcodec encrypts and decrypts persisted account
// credentials: Encrypt(plain) -> cipher with a stable output format
// (nonce prefix included), Decrypt(cipher) -> plain, surfacing
// CREDENTIAL_UNREADABLE on failure. Argon2id derives a process-wide
// key from a configured passphrase and salt, XChaCha20-Poly1305
// provides the AEAD.
package secretcodec

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mineskin-ng/skingen/internal/errs"
)

const (
	keyLen uint32 = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// Codec encrypts and decrypts persisted account credentials.
type Codec struct {
	key []byte
}

// New derives the process-wide key from passphrase and salt via Argon2id.
// No key rotation is performed inside the core.
func New(passphrase string, salt []byte) *Codec {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
	return &Codec{key: key}
}

// Encrypt seals plain under a fresh random nonce, prefixed to the ciphertext.
func (c *Codec) Encrypt(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Decrypt opens cipher produced by Encrypt. Any failure (truncated input,
// wrong key, tampering) surfaces as errs.KindCredentialUnreadable.
func (c *Codec) Decrypt(cipher []byte) ([]byte, error) {
	if len(cipher) < chacha20poly1305.NonceSizeX {
		return nil, errs.New(errs.KindCredentialUnreadable, errors.New("ciphertext too short"))
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errs.New(errs.KindCredentialUnreadable, err)
	}
	nonce := cipher[:chacha20poly1305.NonceSizeX]
	ct := cipher[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.New(errs.KindCredentialUnreadable, err)
	}
	return plain, nil
}
