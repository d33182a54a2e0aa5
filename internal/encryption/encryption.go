// Package encryption seals journal and chat bodies at rest.
//
// Bodies are encrypted with AES-256-GCM under a key derived from the
// application secret. Ciphertext, IV and tag are stored base64 encoded; the
// tag is the trailing 16 bytes of the ciphertext and is kept in its own column
// for compatibility with rows written by earlier versions.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrEmptyKey       = errors.New("encryption: key is empty")
	ErrMalformed      = errors.New("encryption: malformed ciphertext")
	ErrAuthentication = errors.New("encryption: message authentication failed")
)

// Sealed is an encrypted body as it is persisted.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// Encrypter seals plaintext.
type Encrypter interface {
	Encrypt(plaintext string) (Sealed, error)
}

// Decrypter recovers plaintext from a stored ciphertext and IV.
type Decrypter interface {
	Decrypt(ciphertext, iv string) (string, error)
}

// Cipher implements Encrypter and Decrypter with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AES key as sha256(secret).
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate iv: %w", err)
	}
	ct := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(ct[len(ct)-tagSize:]),
	}, nil
}

// Decrypt opens a base64 ciphertext (with trailing tag) and IV.
func (c *Cipher) Decrypt(ciphertext, iv string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}
	if len(nonce) != nonceSize || len(ct) < tagSize {
		return "", ErrMalformed
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(pt), nil
}
