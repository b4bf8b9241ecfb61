package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher identifiers. Identifiers are persisted; never rename one.
const (
	CipherAES256GCM         = "aes-256-gcm"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"
)

// DefaultCipher is used for new vaults unless configured otherwise.
const DefaultCipher = CipherAES256GCM

// Cipher is an AEAD addressed by a persisted identifier.
type Cipher interface {
	ID() string
	NonceSize() int
	Seal(key, nonce, plaintext, aad []byte) ([]byte, error)
	Open(key, nonce, ciphertext, aad []byte) ([]byte, error)
}

var ciphers = map[string]Cipher{
	CipherAES256GCM:         aesGCM{},
	CipherXChaCha20Poly1305: xchacha{},
}

// LookupCipher returns the cipher registered under id.
func LookupCipher(id string) (Cipher, error) {
	c, ok := ciphers[id]
	if !ok {
		return nil, fmt.Errorf("%w: cipher %q", ErrUnknownAlgorithm, id)
	}
	return c, nil
}

// CipherIDs lists the registered cipher identifiers.
func CipherIDs() []string {
	return []string{CipherAES256GCM, CipherXChaCha20Poly1305}
}

type aesGCM struct{}

func (aesGCM) ID() string     { return CipherAES256GCM }
func (aesGCM) NonceSize() int { return NonceLength }

func (aesGCM) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (c aesGCM) Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	return seal(gcm, nonce, plaintext, aad)
}

func (c aesGCM) Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	return open(gcm, nonce, ciphertext, aad)
}

type xchacha struct{}

func (xchacha) ID() string     { return CipherXChaCha20Poly1305 }
func (xchacha) NonceSize() int { return XNonceLength }

func (xchacha) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	return aead, nil
}

func (c xchacha) Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, nonce, plaintext, aad)
}

func (c xchacha) Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	return open(aead, nonce, ciphertext, aad)
}

func seal(aead cipher.AEAD, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceLength
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func open(aead cipher.AEAD, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceLength
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
