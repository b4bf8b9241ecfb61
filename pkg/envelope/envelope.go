// Package envelope wraps a data-encryption key (DEK) under key-encryption
// keys (KEKs) derived from a password or a recovery secret.
//
// Several WrappedKey records may protect the same DEK, one per unlock
// method, so a password can be rotated without re-encrypting bulk data.
// Unwrap fails closed: every failure is reported as ErrAuthFailure.
package envelope

import (
	"errors"
	"fmt"
	"io"

	"github.com/forest6511/animectl/pkg/crypto"
)

// Method names the credential a WrappedKey is bound to.
type Method string

// Unlock methods.
const (
	MethodPassword Method = "password"
	MethodRecovery Method = "recovery"
)

// ErrAuthFailure is returned for any unwrap or verification failure.
var ErrAuthFailure = errors.New("envelope: authentication failed")

// WrappedKey is one encrypted copy of the DEK. Ciphertext carries the AEAD tag.
type WrappedKey struct {
	Method     Method           `json:"method"`
	KDF        crypto.KDFParams `json:"kdf"`
	Cipher     string           `json:"cipher"`
	Nonce      []byte           `json:"nonce"`
	Ciphertext []byte           `json:"ciphertext"`
}

// DeriveKEK derives the key-encryption key for secret.
func DeriveKEK(secret []byte, params crypto.KDFParams) ([]byte, error) {
	kek, err := crypto.DeriveKeyWithParams(secret, params)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive kek: %w", err)
	}
	return kek, nil
}

// Wrap encrypts dek under kek with a fresh nonce from r. The params are
// recorded so the same KEK can be derived again on unwrap.
func Wrap(method Method, dek, kek []byte, params crypto.KDFParams, cipherID string, aad []byte, r io.Reader) (*WrappedKey, error) {
	c, err := crypto.LookupCipher(cipherID)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	if len(dek) != crypto.KeyLength {
		return nil, fmt.Errorf("envelope: %w", crypto.ErrInvalidKeyLength)
	}

	ciphertext, nonce, err := crypto.Seal(c, kek, dek, aad, r)
	if err != nil {
		return nil, fmt.Errorf("envelope: wrap: %w", err)
	}

	return &WrappedKey{
		Method:     method,
		KDF:        params,
		Cipher:     cipherID,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Unwrap decrypts the DEK. It never returns partial plaintext and never
// distinguishes a wrong key from a damaged record.
func Unwrap(wk *WrappedKey, kek, aad []byte) ([]byte, error) {
	if wk == nil {
		return nil, ErrAuthFailure
	}
	c, err := crypto.LookupCipher(wk.Cipher)
	if err != nil {
		return nil, ErrAuthFailure
	}
	dek, err := c.Open(kek, wk.Nonce, wk.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	if len(dek) != crypto.KeyLength {
		crypto.SecureWipe(dek)
		return nil, ErrAuthFailure
	}
	return dek, nil
}

// WrapWithSecret derives a KEK from secret and wraps dek under it.
func WrapWithSecret(method Method, secret, dek []byte, params crypto.KDFParams, cipherID string, aad []byte, r io.Reader) (*WrappedKey, error) {
	kek, err := DeriveKEK(secret, params)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(kek)
	return Wrap(method, dek, kek, params, cipherID, aad, r)
}

// UnwrapWithSecret derives the KEK recorded in wk from secret and unwraps.
// Unusable stored parameters are an authentication failure as well.
func UnwrapWithSecret(wk *WrappedKey, secret, aad []byte) ([]byte, error) {
	if wk == nil {
		return nil, ErrAuthFailure
	}
	kek, err := DeriveKEK(secret, wk.KDF)
	if err != nil {
		return nil, ErrAuthFailure
	}
	defer crypto.SecureWipe(kek)
	return Unwrap(wk, kek, aad)
}

// Find returns the first key wrapped for method, or nil.
func Find(keys []WrappedKey, method Method) *WrappedKey {
	for i := range keys {
		if keys[i].Method == method {
			return &keys[i]
		}
	}
	return nil
}

// Replace returns keys with the entry for wk.Method swapped for wk, or wk
// appended when no such entry exists. Other entries keep their order.
func Replace(keys []WrappedKey, wk WrappedKey) []WrappedKey {
	out := make([]WrappedKey, 0, len(keys)+1)
	replaced := false
	for _, k := range keys {
		if k.Method == wk.Method && !replaced {
			out = append(out, wk)
			replaced = true
			continue
		}
		out = append(out, k)
	}
	if !replaced {
		out = append(out, wk)
	}
	return out
}
