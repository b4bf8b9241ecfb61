package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KDF algorithm identifiers. Identifiers are persisted; never rename one.
const (
	// KDFArgon2id is Argon2id for human passwords.
	KDFArgon2id = "argon2id-v1"

	// KDFHKDFSHA256 is HKDF-SHA256 for high-entropy secrets such as the
	// recovery secret. It carries no cost parameters.
	KDFHKDFSHA256 = "hkdf-sha256-v1"
)

// hkdfInfoKEK binds HKDF output to its use as a key-encryption key.
const hkdfInfoKEK = "animectl-recovery-kek-v1"

// minSaltLength is the shortest salt any KDF accepts.
const minSaltLength = 8

// KDFParams records the algorithm and cost parameters used to derive a key.
// They are stored next to the salt so costs can be raised for new vaults
// without breaking old ones.
type KDFParams struct {
	Algorithm string `json:"alg"`
	Salt      []byte `json:"salt"`
	Memory    uint32 `json:"memory,omitempty"`  // KiB, argon2id only
	Time      uint32 `json:"time,omitempty"`    // iterations, argon2id only
	Threads   uint8  `json:"threads,omitempty"` // argon2id only
}

// KDF derives a fixed-length key from a secret and stored parameters.
type KDF interface {
	ID() string
	Derive(secret []byte, params KDFParams) ([]byte, error)
}

var kdfs = map[string]KDF{
	KDFArgon2id:   argon2idKDF{},
	KDFHKDFSHA256: hkdfKDF{},
}

// LookupKDF returns the KDF registered under id.
func LookupKDF(id string) (KDF, error) {
	k, ok := kdfs[id]
	if !ok {
		return nil, fmt.Errorf("%w: kdf %q", ErrUnknownAlgorithm, id)
	}
	return k, nil
}

// NewKDFParams returns parameters for id with a fresh random salt and the
// default costs.
func NewKDFParams(id string, r io.Reader) (KDFParams, error) {
	if _, err := LookupKDF(id); err != nil {
		return KDFParams{}, err
	}
	salt, err := RandomBytes(r, SaltLength)
	if err != nil {
		return KDFParams{}, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	p := KDFParams{Algorithm: id, Salt: salt}
	if id == KDFArgon2id {
		p.Memory = Argon2Memory
		p.Time = Argon2Time
		p.Threads = Argon2Threads
	}
	return p, nil
}

// WithCost returns a copy of p with the given Argon2id costs. Zero values
// keep the existing cost.
func (p KDFParams) WithCost(memory, time uint32, threads uint8) KDFParams {
	if memory > 0 {
		p.Memory = memory
	}
	if time > 0 {
		p.Time = time
	}
	if threads > 0 {
		p.Threads = threads
	}
	return p
}

// DeriveKeyWithParams derives a KeyLength key using the algorithm named in params.
func DeriveKeyWithParams(secret []byte, params KDFParams) ([]byte, error) {
	k, err := LookupKDF(params.Algorithm)
	if err != nil {
		return nil, err
	}
	return k.Derive(secret, params)
}

type argon2idKDF struct{}

func (argon2idKDF) ID() string { return KDFArgon2id }

func (argon2idKDF) Derive(secret []byte, p KDFParams) ([]byte, error) {
	if len(p.Salt) < minSaltLength || p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, ErrInvalidKDFParams
	}
	return argon2Key(secret, p.Salt, p.Time, p.Memory, p.Threads), nil
}

func argon2Key(password, salt []byte, time, memory uint32, threads uint8) []byte {
	return argon2.IDKey(password, salt, time, memory, threads, KeyLength)
}

type hkdfKDF struct{}

func (hkdfKDF) ID() string { return KDFHKDFSHA256 }

func (hkdfKDF) Derive(secret []byte, p KDFParams) ([]byte, error) {
	if len(p.Salt) < minSaltLength {
		return nil, ErrInvalidKDFParams
	}
	return HKDF(secret, p.Salt, hkdfInfoKEK)
}

// HKDF derives a KeyLength key from secret using HKDF-SHA256.
func HKDF(secret, salt []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return key, nil
}
