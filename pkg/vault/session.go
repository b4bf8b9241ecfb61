package vault

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/envelope"
	"github.com/forest6511/animectl/pkg/stats"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// Session is an unlocked vault. Record changes stay in memory until Save.
// A Session is safe for concurrent use; after Lock every method returns
// ErrLocked.
type Session struct {
	v  *Vault
	mu sync.Mutex

	header Header
	sealed []byte // body bytes as last read or written
	dek    *memguard.LockedBuffer
	body   *body
	dirty  bool

	method     envelope.Method
	needsRekey bool
	adult      adultGate
}

// Lock destroys the DEK, drops the records and the adult state, and releases
// the vault. Unsaved changes are discarded. Calling Lock twice is a no-op.
func (s *Session) Lock() {
	s.mu.Lock()
	if s.dek == nil {
		s.mu.Unlock()
		return
	}
	if s.dirty {
		s.v.log.Warn().Str("vault_id", s.header.VaultID).Msg("locking with unsaved changes")
	}
	s.v.logAudit(audit.OpVaultLock, "", nil)
	if s.v.audit != nil {
		s.v.audit.ClearKey()
	}
	s.dek.Destroy()
	s.dek = nil
	s.body = nil
	s.sealed = nil
	s.dirty = false
	s.adult = adultGate{}
	s.mu.Unlock()

	s.v.release(s)
	s.v.log.Info().Str("vault_id", s.header.VaultID).Msg("vault locked")
}

// Locked reports whether Lock has been called.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dek == nil
}

// Dirty reports whether there are unsaved changes.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// NeedsRekey reports whether the session was opened with the recovery secret
// and no new master password has been set since.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRekey
}

// Save re-encrypts the record set with a fresh nonce and writes the
// container atomically. Wrapped keys are kept as they are.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return ErrLocked
	}

	s.body.UpdatedAt = s.v.now().UTC()
	sealed, err := sealBody(&s.header, s.dek.Bytes(), s.body, s.v.rand)
	if err != nil {
		return err
	}
	if err := s.v.writeContainer(&Container{Header: s.header, Body: sealed}); err != nil {
		return err
	}
	s.sealed = sealed
	s.dirty = false

	s.v.logAudit(audit.OpVaultSave, "", map[string]string{"entries": strconv.Itoa(len(s.body.Entries))})
	s.v.log.Debug().Str("vault_id", s.header.VaultID).Int("entries", len(s.body.Entries)).Msg("vault saved")
	return nil
}

// Rekey sets a new master password. The same DEK is wrapped under a fresh
// salt and only the password key in the header changes; the records and the
// recovery key are untouched.
func (s *Session) Rekey(newPassword string) error {
	if err := checkPasswordLength(newPassword); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return ErrLocked
	}

	wk, err := s.v.wrapPassword(&s.header, []byte(newPassword), s.dek.Bytes())
	if err != nil {
		return err
	}
	h := s.header
	h.Keys = envelope.Replace(s.header.Keys, *wk)
	if err := s.v.writeContainer(&Container{Header: h, Body: s.sealed}); err != nil {
		return err
	}
	s.header = h
	s.needsRekey = false

	s.v.logAudit(audit.OpVaultRekey, "", nil)
	s.v.log.Info().Str("vault_id", h.VaultID).Msg("master password changed")
	return nil
}

// RegenerateRecovery replaces the recovery key. The previous recovery secret
// stops working once this returns.
func (s *Session) RegenerateRecovery() (RecoverySecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return "", ErrLocked
	}

	raw, err := newRecoverySecret(s.v.rand)
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(raw)

	wk, err := s.v.wrapRecovery(&s.header, raw, s.dek.Bytes())
	if err != nil {
		return "", err
	}
	h := s.header
	h.Keys = envelope.Replace(s.header.Keys, *wk)
	if err := s.v.writeContainer(&Container{Header: h, Body: s.sealed}); err != nil {
		return "", err
	}
	s.header = h

	s.v.logAudit(audit.OpRecoveryRegenerate, "", nil)
	s.v.log.Info().Str("vault_id", h.VaultID).Msg("recovery secret regenerated")
	return formatRecoverySecret(raw), nil
}

// Info describes the unlocked vault.
func (s *Session) Info() (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return nil, ErrLocked
	}
	info := newInfo(s.v.path, &s.header)
	info.Unlocked = true
	info.EntryCount = len(s.visible())
	info.AdultConfigured = s.body.Adult != nil
	info.AdultUnlocked = s.adult.open
	info.Dirty = s.dirty
	info.UpdatedAt = s.body.UpdatedAt
	return info, nil
}

// ListEntries returns the visible entries ordered by id.
func (s *Session) ListEntries() ([]watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return nil, ErrLocked
	}
	return cloneEntries(s.visible()), nil
}

// Search returns visible entries whose title or a genre contains query,
// compared case-insensitively.
func (s *Session) Search(query string) ([]watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return nil, ErrLocked
	}
	var out []watchlist.Entry
	for _, e := range s.visible() {
		if e.Matches(query) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// Get returns the visible entry with id.
func (s *Session) Get(id int) (watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return watchlist.Entry{}, ErrLocked
	}
	i := s.find(id)
	if i < 0 {
		return watchlist.Entry{}, ErrEntryNotFound
	}
	return s.body.Entries[i].Clone(), nil
}

// AddEntry stores a new entry and returns it with its assigned id and
// timestamps. Adult entries need a configured adult password but not an
// open adult gate.
func (s *Session) AddEntry(e watchlist.Entry) (watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return watchlist.Entry{}, ErrLocked
	}

	e = e.Clone()
	e.Normalize()
	if err := e.Validate(); err != nil {
		return watchlist.Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if e.IsAdult && s.body.Adult == nil {
		return watchlist.Entry{}, ErrNotConfigured
	}

	now := s.v.now().UTC()
	e.ID = s.body.NextID
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.EpisodesWatched > 0 && e.LastWatchedAt == nil {
		e.LastWatchedAt = &now
	}
	s.body.NextID++
	s.body.Entries = append(s.body.Entries, e)
	s.dirty = true

	s.v.logAudit(audit.OpEntryAdd, strconv.Itoa(e.ID), nil)
	return e.Clone(), nil
}

// UpdateEntry applies p to the visible entry with id.
func (s *Session) UpdateEntry(id int, p watchlist.Patch) (watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return watchlist.Entry{}, ErrLocked
	}
	i := s.find(id)
	if i < 0 {
		return watchlist.Entry{}, ErrEntryNotFound
	}

	updated := p.Apply(s.body.Entries[i], s.v.now().UTC())
	if err := updated.Validate(); err != nil {
		return watchlist.Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if updated.IsAdult && s.body.Adult == nil {
		return watchlist.Entry{}, ErrNotConfigured
	}
	s.body.Entries[i] = updated
	s.dirty = true

	s.v.logAudit(audit.OpEntryUpdate, strconv.Itoa(id), nil)
	return updated.Clone(), nil
}

// RemoveEntry deletes the visible entry with id.
func (s *Session) RemoveEntry(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return ErrLocked
	}
	i := s.find(id)
	if i < 0 {
		return ErrEntryNotFound
	}
	s.body.Entries = append(s.body.Entries[:i], s.body.Entries[i+1:]...)
	s.dirty = true

	s.v.logAudit(audit.OpEntryRemove, strconv.Itoa(id), nil)
	return nil
}

// Stats computes statistics over the visible entries.
func (s *Session) Stats(opts ...stats.Option) (stats.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return stats.Stats{}, ErrLocked
	}
	return stats.Compute(s.visible(), opts...), nil
}

// ImportMode selects how Import treats existing entries.
type ImportMode string

const (
	// ImportMerge appends imported entries.
	ImportMerge ImportMode = "merge"
	// ImportReplace removes the visible entries first. Hidden adult
	// entries survive.
	ImportReplace ImportMode = "replace"
)

// ParseImportMode parses "merge" or "replace"; empty means merge.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportMerge:
		return ImportMerge, nil
	case ImportReplace:
		return ImportReplace, nil
	}
	return "", fmt.Errorf("vault: unknown import mode %q", s)
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Added        int
	Removed      int
	SkippedAdult int
	Invalid      []ImportError
}

// ImportError describes an entry that failed validation.
type ImportError struct {
	Index int
	Title string
	Err   error
}

// Import adds entries with fresh ids. Adult entries are imported only while
// the adult gate is open; otherwise they are counted in SkippedAdult.
// Invalid entries are reported and skipped.
func (s *Session) Import(entries []watchlist.Entry, mode ImportMode) (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return nil, ErrLocked
	}

	res := &ImportResult{}
	now := s.v.now().UTC()
	accepted := make([]watchlist.Entry, 0, len(entries))
	for i, e := range entries {
		e = e.Clone()
		e.Normalize()
		if err := e.Validate(); err != nil {
			res.Invalid = append(res.Invalid, ImportError{Index: i, Title: e.Title, Err: err})
			continue
		}
		if e.IsAdult && !s.adult.open {
			res.SkippedAdult++
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		accepted = append(accepted, e)
	}

	if mode == ImportReplace {
		kept := s.body.Entries[:0]
		for _, e := range s.body.Entries {
			if s.isVisible(&e) {
				res.Removed++
				continue
			}
			kept = append(kept, e)
		}
		s.body.Entries = kept
	}

	for _, e := range accepted {
		e.ID = s.body.NextID
		s.body.NextID++
		s.body.Entries = append(s.body.Entries, e)
	}
	res.Added = len(accepted)
	if res.Added > 0 || res.Removed > 0 {
		s.dirty = true
	}

	s.v.logAudit(audit.OpEntryImport, "", map[string]string{
		"mode":          string(mode),
		"added":         strconv.Itoa(res.Added),
		"removed":       strconv.Itoa(res.Removed),
		"skipped_adult": strconv.Itoa(res.SkippedAdult),
	})
	s.v.log.Info().Str("mode", string(mode)).Int("added", res.Added).Int("removed", res.Removed).
		Int("skipped_adult", res.SkippedAdult).Int("invalid", len(res.Invalid)).Msg("entries imported")
	return res, nil
}

// Export builds an export document. includeAdult requires the adult gate to
// be open; without it adult entries are left out even when the gate is open.
func (s *Session) Export(includeAdult bool) (*watchlist.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return nil, ErrLocked
	}
	if includeAdult && !s.adult.open {
		return nil, ErrAdultLocked
	}

	var entries []watchlist.Entry
	for _, e := range s.visible() {
		if e.IsAdult && !includeAdult {
			continue
		}
		entries = append(entries, e.Clone())
	}

	s.v.logAudit(audit.OpEntryExport, "", map[string]string{
		"entries":        strconv.Itoa(len(entries)),
		"includes_adult": strconv.FormatBool(includeAdult),
	})
	return watchlist.NewDocument(entries, includeAdult, s.v.now().UTC()), nil
}

// visible returns the entries the current gate state allows, ordered by id.
// The slice shares entries with the body.
func (s *Session) visible() []watchlist.Entry {
	out := make([]watchlist.Entry, 0, len(s.body.Entries))
	for _, e := range s.body.Entries {
		if s.isVisible(&e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) isVisible(e *watchlist.Entry) bool {
	return !e.IsAdult || s.adult.open
}

// find returns the index of the visible entry with id, or -1.
func (s *Session) find(id int) int {
	for i := range s.body.Entries {
		if s.body.Entries[i].ID == id {
			if !s.isVisible(&s.body.Entries[i]) {
				return -1
			}
			return i
		}
	}
	return -1
}

func cloneEntries(entries []watchlist.Entry) []watchlist.Entry {
	out := make([]watchlist.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// Info describes a vault.
type Info struct {
	Path        string    `json:"path"`
	VaultID     string    `json:"vault_id"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Cipher      string    `json:"cipher"`
	KeyMethods  []string  `json:"key_methods"`
	PasswordKDF string    `json:"password_kdf"`
	KDFMemory   uint32    `json:"kdf_memory_kib,omitempty"`
	KDFTime     uint32    `json:"kdf_time,omitempty"`
	KDFThreads  uint8     `json:"kdf_threads,omitempty"`

	Unlocked        bool      `json:"unlocked"`
	EntryCount      int       `json:"entry_count,omitempty"`
	AdultConfigured bool      `json:"adult_configured,omitempty"`
	AdultUnlocked   bool      `json:"adult_unlocked,omitempty"`
	Dirty           bool      `json:"dirty,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

func newInfo(path string, h *Header) *Info {
	info := &Info{
		Path:      path,
		VaultID:   h.VaultID,
		Version:   h.Version,
		CreatedAt: h.CreatedAt,
		Cipher:    h.Cipher,
	}
	for _, k := range h.Keys {
		info.KeyMethods = append(info.KeyMethods, string(k.Method))
		if k.Method == envelope.MethodPassword {
			info.PasswordKDF = k.KDF.Algorithm
			info.KDFMemory = k.KDF.Memory
			info.KDFTime = k.KDF.Time
			info.KDFThreads = k.KDF.Threads
		}
	}
	return info
}
