package vault

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/store"
)

// Option configures a Vault.
type Option func(*Vault)

// WithStore sets the storage backend. The vault closes it on Close.
func WithStore(s store.Store) Option {
	return func(v *Vault) { v.store = s }
}

// WithRandom sets the randomness source for keys, salts and nonces.
func WithRandom(r io.Reader) Option {
	return func(v *Vault) { v.rand = r }
}

// WithCipher selects the AEAD used for new vaults. Existing vaults keep the
// cipher recorded in their header.
func WithCipher(id string) Option {
	return func(v *Vault) { v.cipherID = id }
}

// WithKDFCost overrides the Argon2id cost for new password wraps and the
// adult credential. Zero values keep the default.
func WithKDFCost(memory, time uint32, threads uint8) Option {
	return func(v *Vault) {
		v.kdfMemory = memory
		v.kdfTime = time
		v.kdfThreads = threads
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithAudit sets the audit logger. Pass nil to disable auditing.
func WithAudit(l *audit.Logger) Option {
	return func(v *Vault) {
		v.audit = l
		v.auditSet = true
	}
}

// WithAuditSource tags audit events with the calling surface.
func WithAuditSource(source string) Option {
	return func(v *Vault) { v.source = source }
}
