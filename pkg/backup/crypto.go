package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/forest6511/animectl/pkg/crypto"
)

const (
	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = 32

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32
)

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "animectl-backup-encryption"
	hkdfInfoMAC        = "animectl-backup-mac"
)

// DeriveBackupKeys derives encryption and MAC keys from a password and the
// KDF parameters stored in the header.
func DeriveBackupKeys(password []byte, params crypto.KDFParams) (encKey, macKey []byte, err error) {
	if len(password) == 0 {
		return nil, nil, ErrEmptyPassword
	}

	masterKey, err := crypto.DeriveKeyWithParams(password, params)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive key: %w", err)
	}
	defer crypto.SecureWipe(masterKey)

	return splitKeys(masterKey)
}

// splitKeys derives separate encryption and MAC keys from one secret.
func splitKeys(secret []byte) (encKey, macKey []byte, err error) {
	encKey, err = crypto.HKDF(secret, nil, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = crypto.HKDF(secret, nil, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

// EncryptPayload encrypts the payload using AES-256-GCM.
// Returns nonce prepended to ciphertext.
func EncryptPayload(plaintext, key []byte, aad []byte, r io.Reader) ([]byte, error) {
	c, err := crypto.LookupCipher(crypto.CipherAES256GCM)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := crypto.Seal(c, key, plaintext, aad, r)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

// DecryptPayload decrypts the payload using AES-256-GCM.
// Expects nonce prepended to ciphertext.
func DecryptPayload(data, key []byte, aad []byte) ([]byte, error) {
	c, err := crypto.LookupCipher(crypto.CipherAES256GCM)
	if err != nil {
		return nil, err
	}
	if len(data) < c.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := c.Open(key, data[:c.NonceSize()], data[c.NonceSize():], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ComputeHMAC computes HMAC-SHA256 over the given data.
func ComputeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMAC verifies the HMAC-SHA256 of the given data.
func VerifyHMAC(data, expectedMAC, key []byte) bool {
	return hmac.Equal(ComputeHMAC(data, key), expectedMAC)
}

// ReadKeyFile reads a 32-byte encryption key from a file.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read key file: %w", err)
	}
	if len(key) != KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile generates a random 32-byte key and writes it to a file
// with 0600 permissions. It refuses to overwrite an existing file.
func GenerateKeyFile(path string, r io.Reader) error {
	key, err := crypto.RandomBytes(r, KeyLength)
	if err != nil {
		return fmt.Errorf("backup: failed to generate key: %w", err)
	}
	defer crypto.SecureWipe(key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("backup: failed to create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return fmt.Errorf("backup: failed to write key file: %w", err)
	}
	return f.Close()
}
