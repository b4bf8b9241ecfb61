package envelope

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/forest6511/animectl/pkg/crypto"
)

// Credential verifies a password without storing it: a salt with cost
// parameters and a verifier derived from the password.
type Credential struct {
	KDF      crypto.KDFParams `json:"kdf"`
	Verifier []byte           `json:"verifier"`
}

// NewCredential derives a verifier for password. params must carry a fresh salt.
func NewCredential(password []byte, params crypto.KDFParams) (*Credential, error) {
	v, err := verifier(password, params)
	if err != nil {
		return nil, err
	}
	return &Credential{KDF: params, Verifier: v}, nil
}

// Verify reports whether password matches. Comparison is constant time.
func (c *Credential) Verify(password []byte) (bool, error) {
	if c == nil {
		return false, ErrAuthFailure
	}
	v, err := verifier(password, c.KDF)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(v, c.Verifier) == 1, nil
}

func verifier(password []byte, params crypto.KDFParams) ([]byte, error) {
	key, err := crypto.DeriveKeyWithParams(password, params)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive verifier: %w", err)
	}
	defer crypto.SecureWipe(key)
	sum := sha256.Sum256(key)
	return sum[:], nil
}
