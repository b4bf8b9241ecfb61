// Package vault keeps the watchlist in an envelope-encrypted container.
//
// A random data encryption key (DEK) encrypts the record set. The DEK is
// wrapped once under a key derived from the master password and once under a
// key derived from the recovery secret, so either can open the vault and the
// password can change without re-encrypting the records.
package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/envelope"
	"github.com/forest6511/animectl/pkg/store"
)

// Blob names inside the store.
const (
	BlobName      = "vault.anim"
	LockStateName = "vault.lock"
	AuditDirName  = "audit"
)

// Errors
var (
	ErrAuthFailure        = errors.New("vault: authentication failed")
	ErrNotConfigured      = errors.New("vault: adult password is not configured")
	ErrAlreadyInitialized = errors.New("vault: vault already exists at this path")
	ErrCorruptData        = errors.New("vault: vault data is corrupted")
	ErrIOFailure          = errors.New("vault: storage failure")
	ErrNotInitialized     = errors.New("vault: vault not found at this path")
	ErrLocked             = errors.New("vault: vault is locked")
	ErrSessionActive      = errors.New("vault: vault is already unlocked")
	ErrAdultLocked        = errors.New("vault: adult section is locked")
	ErrTooManyAttempts    = errors.New("vault: too many failed adult password attempts")
	ErrCooldownActive     = errors.New("vault: cooldown period active")
	ErrEntryNotFound      = errors.New("vault: entry not found")
	ErrInvalidEntry       = errors.New("vault: invalid entry")
	ErrEmptyPassword      = errors.New("vault: password must not be empty")
	ErrPasswordTooShort   = errors.New("vault: password must be at least 8 characters")
	ErrPasswordTooLong    = errors.New("vault: password must be at most 128 characters")
)

// State is the lifecycle state of a Vault.
type State int

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Vault manages one container in a store. At most one Session is active at a
// time.
type Vault struct {
	path  string
	store store.Store
	rand  io.Reader
	log   zerolog.Logger
	now   func() time.Time

	cipherID   string
	kdfMemory  uint32
	kdfTime    uint32
	kdfThreads uint8

	audit    *audit.Logger
	auditSet bool
	source   string

	mu      sync.Mutex
	session *Session
}

// New creates a Vault rooted at path. Without WithStore the container lives
// in a FileStore at path.
func New(path string, opts ...Option) (*Vault, error) {
	v := &Vault{
		path:     path,
		rand:     rand.Reader,
		log:      zerolog.Nop(),
		now:      time.Now,
		cipherID: crypto.DefaultCipher,
		source:   audit.SourceCLI,
	}
	for _, opt := range opts {
		opt(v)
	}

	if _, err := crypto.LookupCipher(v.cipherID); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if v.store == nil {
		fs, err := store.NewFileStore(path, store.WithLogger(v.log))
		if err != nil {
			return nil, err
		}
		v.store = fs
	}
	if !v.auditSet {
		v.audit = audit.NewLogger(filepath.Join(path, AuditDirName),
			audit.WithClock(v.now), audit.WithLogger(v.log))
	}
	return v, nil
}

// Path returns the vault directory.
func (v *Vault) Path() string {
	return v.path
}

// Store returns the underlying store.
func (v *Vault) Store() store.Store {
	return v.store
}

// Audit returns the audit logger, or nil when auditing is disabled. It can
// only write while a session is unlocked.
func (v *Vault) Audit() *audit.Logger {
	return v.audit
}

// Exists reports whether a container has been written.
func (v *Vault) Exists() (bool, error) {
	ok, err := v.store.Exists(BlobName)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return ok, nil
}

// State reports the current lifecycle state.
func (v *Vault) State() (State, error) {
	v.mu.Lock()
	active := v.session != nil
	v.mu.Unlock()
	if active {
		return StateUnlocked, nil
	}
	ok, err := v.Exists()
	if err != nil {
		return StateUninitialized, err
	}
	if !ok {
		return StateUninitialized, nil
	}
	return StateLocked, nil
}

// Close locks any active session and closes the store.
func (v *Vault) Close() error {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()
	if s != nil {
		s.Lock()
	}
	return v.store.Close()
}

// Setup creates a new vault protected by masterPassword and returns the
// recovery secret. The secret is not stored and must be shown to the user.
func (v *Vault) Setup(masterPassword string) (RecoverySecret, error) {
	if err := checkPasswordLength(masterPassword); err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	exists, err := v.Exists()
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrAlreadyInitialized
	}

	id, err := uuid.NewRandomFromReader(v.rand)
	if err != nil {
		return "", fmt.Errorf("vault: failed to generate vault id: %w", err)
	}
	dek, err := crypto.RandomBytes(v.rand, crypto.KeyLength)
	if err != nil {
		return "", fmt.Errorf("vault: failed to generate DEK: %w", err)
	}
	defer crypto.SecureWipe(dek)

	recovery, err := newRecoverySecret(v.rand)
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(recovery)

	h := Header{
		Version:   FormatVersion,
		VaultID:   id.String(),
		CreatedAt: v.now().UTC(),
		Cipher:    v.cipherID,
	}

	start := time.Now()
	pwKey, err := v.wrapPassword(&h, []byte(masterPassword), dek)
	if err != nil {
		return "", err
	}
	v.log.Debug().Dur("elapsed", time.Since(start)).Str("kdf", pwKey.KDF.Algorithm).Msg("wrapped DEK under password")

	recKey, err := v.wrapRecovery(&h, recovery, dek)
	if err != nil {
		return "", err
	}
	h.Keys = []envelope.WrappedKey{*pwKey, *recKey}

	b := &body{V: bodyVersion, NextID: 1, Entries: nil, UpdatedAt: h.CreatedAt}
	sealed, err := sealBody(&h, dek, b, v.rand)
	if err != nil {
		return "", err
	}
	if err := v.writeContainer(&Container{Header: h, Body: sealed}); err != nil {
		return "", err
	}

	if v.audit != nil {
		if err := v.audit.SetHMACKey(dek); err == nil {
			v.logAudit(audit.OpVaultSetup, "", map[string]string{"cipher": h.Cipher})
			v.audit.ClearKey()
		}
	}
	v.log.Info().Str("vault_id", h.VaultID).Str("cipher", h.Cipher).Msg("vault initialized")
	return formatRecoverySecret(recovery), nil
}

// Unlock opens the vault with the master password.
func (v *Vault) Unlock(masterPassword string) (*Session, error) {
	return v.unlock(envelope.MethodPassword, []byte(masterPassword))
}

// UnlockWithRecovery opens the vault with the recovery secret. The session
// reports NeedsRekey so the caller can ask for a new master password.
func (v *Vault) UnlockWithRecovery(secret string) (*Session, error) {
	raw, err := ParseRecoverySecret(secret)
	if err != nil {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.session != nil {
			return nil, ErrSessionActive
		}
		if _, err := v.checkCooldown(); err != nil {
			return nil, err
		}
		return nil, v.authFailed(envelope.MethodRecovery)
	}
	defer crypto.SecureWipe(raw)
	return v.unlock(envelope.MethodRecovery, raw)
}

func (v *Vault) unlock(method envelope.Method, secret []byte) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		return nil, ErrSessionActive
	}
	if _, err := v.checkCooldown(); err != nil {
		return nil, err
	}

	c, err := v.readContainer()
	if err != nil {
		return nil, err
	}
	wk := envelope.Find(c.Header.Keys, method)
	if wk == nil {
		return nil, fmt.Errorf("%w: no %s key", ErrCorruptData, method)
	}

	start := time.Now()
	dek, err := envelope.UnwrapWithSecret(wk, secret, keyAAD(c.Header.VaultID, method))
	if err != nil {
		return nil, v.authFailed(method)
	}
	v.log.Debug().Dur("elapsed", time.Since(start)).Str("method", string(method)).Msg("unwrapped DEK")

	b, err := openBody(&c.Header, dek, c.Body)
	if err != nil {
		crypto.SecureWipe(dek)
		v.log.Error().Str("vault_id", c.Header.VaultID).Msg("vault body failed authentication")
		return nil, err
	}

	if err := v.clearLockState(); err != nil {
		v.log.Warn().Err(err).Msg("failed to clear lock state")
	}

	// NewBufferFromBytes wipes dek.
	buf := memguard.NewBufferFromBytes(dek)
	buf.Freeze()

	s := &Session{
		v:          v,
		header:     c.Header,
		sealed:     c.Body,
		dek:        buf,
		body:       b,
		method:     method,
		needsRekey: method == envelope.MethodRecovery,
	}
	v.session = s

	if v.audit != nil {
		if err := v.audit.SetHMACKey(buf.Bytes()); err != nil {
			v.log.Warn().Err(err).Msg("audit logging unavailable")
		}
	}
	op := audit.OpVaultUnlock
	if method == envelope.MethodRecovery {
		op = audit.OpVaultUnlockRecovery
	}
	v.logAudit(op, "", nil)
	v.log.Info().Str("vault_id", c.Header.VaultID).Str("method", string(method)).
		Int("entries", len(b.Entries)).Msg("vault unlocked")
	return s, nil
}

// authFailed records a failed unlock and builds the returned error. Failures
// are logged but not audited: the audit key derives from the DEK.
func (v *Vault) authFailed(method envelope.Method) error {
	cooldown, err := v.recordFailedAttempt()
	if err != nil {
		v.log.Warn().Err(err).Msg("failed to record unlock attempt")
	}
	v.log.Warn().Str("method", string(method)).Dur("cooldown", cooldown).Msg("unlock failed")
	if cooldown > 0 {
		return fmt.Errorf("%w (%w: retry in %v)", ErrAuthFailure, ErrCooldownActive, cooldown)
	}
	return ErrAuthFailure
}

// Info describes the vault from its plaintext header. No unlock needed.
func (v *Vault) Info() (*Info, error) {
	c, err := v.readContainer()
	if err != nil {
		return nil, err
	}
	return newInfo(v.path, &c.Header), nil
}

// RawContainer returns the stored container bytes, still encrypted.
func (v *Vault) RawContainer() ([]byte, error) {
	data, err := v.store.ReadAll(BlobName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return data, nil
}

// RestoreContainer replaces the stored container with data after checking
// its structure. It refuses while a session is active, and refuses to
// replace an existing container unless overwrite is set.
func (v *Vault) RestoreContainer(data []byte, overwrite bool) (*Header, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		return nil, ErrSessionActive
	}
	c, err := DecodeContainer(data)
	if err != nil {
		return nil, err
	}
	exists, err := v.Exists()
	if err != nil {
		return nil, err
	}
	if exists && !overwrite {
		return nil, ErrAlreadyInitialized
	}
	if err := v.store.AtomicWriteAll(BlobName, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := v.clearLockState(); err != nil {
		v.log.Warn().Err(err).Msg("failed to clear lock state")
	}
	v.log.Info().Str("vault_id", c.Header.VaultID).Msg("vault container restored")
	return &c.Header, nil
}

func (v *Vault) readContainer() (*Container, error) {
	data, err := v.RawContainer()
	if err != nil {
		return nil, err
	}
	return DecodeContainer(data)
}

func (v *Vault) writeContainer(c *Container) error {
	data, err := EncodeContainer(c)
	if err != nil {
		return err
	}
	if err := v.store.AtomicWriteAll(BlobName, data); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

func (v *Vault) passwordParams() (crypto.KDFParams, error) {
	p, err := crypto.NewKDFParams(crypto.KDFArgon2id, v.rand)
	if err != nil {
		return crypto.KDFParams{}, fmt.Errorf("vault: %w", err)
	}
	return p.WithCost(v.kdfMemory, v.kdfTime, v.kdfThreads), nil
}

func (v *Vault) wrapPassword(h *Header, password, dek []byte) (*envelope.WrappedKey, error) {
	params, err := v.passwordParams()
	if err != nil {
		return nil, err
	}
	wk, err := envelope.WrapWithSecret(envelope.MethodPassword, password, dek, params,
		h.Cipher, keyAAD(h.VaultID, envelope.MethodPassword), v.rand)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to wrap DEK: %w", err)
	}
	return wk, nil
}

func (v *Vault) wrapRecovery(h *Header, secret, dek []byte) (*envelope.WrappedKey, error) {
	params, err := crypto.NewKDFParams(crypto.KDFHKDFSHA256, v.rand)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	wk, err := envelope.WrapWithSecret(envelope.MethodRecovery, secret, dek, params,
		h.Cipher, keyAAD(h.VaultID, envelope.MethodRecovery), v.rand)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to wrap DEK: %w", err)
	}
	return wk, nil
}

// logAudit writes a success event when the audit key is available.
func (v *Vault) logAudit(op, subject string, ctx map[string]string) {
	if v.audit == nil || !v.audit.HasKey() {
		return
	}
	if err := v.audit.Log(op, v.source, audit.ResultSuccess, subject, nil, ctx); err != nil {
		v.log.Warn().Err(err).Str("op", op).Msg("failed to write audit event")
	}
}

func (v *Vault) logAuditDenied(op, subject, reason string) {
	if v.audit == nil || !v.audit.HasKey() {
		return
	}
	if err := v.audit.LogDenied(op, v.source, subject, reason); err != nil {
		v.log.Warn().Err(err).Str("op", op).Msg("failed to write audit event")
	}
}

// release frees the active-session slot if s holds it.
func (v *Vault) release(s *Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == s {
		v.session = nil
	}
}
