// Package crypto provides cryptographic primitives for animectl.
//
// Algorithms are addressed by versioned identifiers so that vault files
// record exactly which derivation function and cipher protected them.
//
// # Security Features
//
//   - Argon2id password derivation (64MB memory, 3 iterations, 4 threads)
//   - HKDF-SHA256 derivation for high-entropy secrets
//   - AES-256-GCM and XChaCha20-Poly1305 authenticated encryption
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	// Derive a key from password
//	params, _ := crypto.NewKDFParams(crypto.KDFArgon2id, rand.Reader)
//	key, err := crypto.DeriveKeyWithParams([]byte("password"), params)
//
//	// Encrypt data with the default cipher
//	c, _ := crypto.LookupCipher(crypto.DefaultCipher)
//	ciphertext, nonce, err := crypto.Seal(c, key, plaintext, aad, rand.Reader)
//
//	// Decrypt data
//	plaintext, err := c.Open(key, nonce, ciphertext, aad)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of KDF salts in bytes (128 bits).
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// XNonceLength is the length of XChaCha20-Poly1305 nonces in bytes (192 bits).
	XNonceLength = 24
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce does not match the cipher.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the authentication tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrUnknownAlgorithm indicates an algorithm identifier is not registered.
	ErrUnknownAlgorithm = errors.New("crypto: unknown algorithm")

	// ErrInvalidKDFParams indicates missing salt or zero cost parameters.
	ErrInvalidKDFParams = errors.New("crypto: invalid key derivation parameters")
)

// Seal encrypts plaintext with c under key, binding aad, using a fresh nonce
// read from r. The nonce is returned separately from the ciphertext.
func Seal(c Cipher, key, plaintext, aad []byte, r io.Reader) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	nonce, err = RandomBytes(r, c.NonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext, err = c.Seal(key, nonce, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// RandomBytes reads n bytes from r. A nil reader means crypto/rand.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
