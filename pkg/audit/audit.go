// Package audit provides an append-only audit trail with an HMAC chain for
// tamper detection.
//
// Events are appended to one JSONL file per month. Each record's HMAC covers
// its fields and the previous record's HMAC, so removing, reordering or
// editing a record breaks verification. The HMAC key is derived from the
// vault DEK, so the trail can only be extended or verified while unlocked.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/store"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// File layout
const (
	ChainFileName = "audit.meta"
	logSuffix     = ".jsonl"
	genesis       = "genesis"
	schemaVersion = 1
	hkdfInfo      = "animectl-audit-v1"
)

// Operation types for audit logging
const (
	// Vault operations
	OpVaultSetup          = "vault.setup"
	OpVaultUnlock         = "vault.unlock"
	OpVaultUnlockRecovery = "vault.unlock_recovery"
	OpVaultLock           = "vault.lock"
	OpVaultRekey          = "vault.rekey"
	OpVaultSave           = "vault.save"
	OpRecoveryRegenerate  = "recovery.regenerate"

	// Adult partition
	OpAdultConfigure   = "adult.configure"
	OpAdultEnter       = "adult.enter"
	OpAdultEnterFailed = "adult.enter_failed"

	// Entry operations
	OpEntryAdd    = "entry.add"
	OpEntryUpdate = "entry.update"
	OpEntryRemove = "entry.remove"
	OpEntryImport = "entry.import"
	OpEntryExport = "entry.export"

	// Backup operations
	OpBackupCreate  = "backup.create"
	OpBackupRestore = "backup.restore"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// Errors
var (
	ErrKeyNotSet         = errors.New("audit: HMAC key not set")
	ErrUnsupportedFormat = errors.New("audit: unsupported export format")
	ErrInsufficientDisk  = errors.New("audit: insufficient disk space")
)

// Event is a single audit record.
type Event struct {
	Version   int               `json:"v"`
	ID        string            `json:"id"` // UUIDv7, time-ordered
	Timestamp string            `json:"ts"` // RFC 3339, nanosecond precision
	Operation string            `json:"op"`
	Subject   string            `json:"subject,omitempty"` // HMAC of the entry id
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Result    string            `json:"result"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Context   map[string]string `json:"ctx,omitempty"`
	Chain     Chain             `json:"chain"`
}

// Time parses the event timestamp.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// ErrorInfo contains error details. Messages never carry secrets or titles.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// ChainState is the persisted tail of the chain.
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path      string
	hmacKey   []byte
	mu        sync.Mutex
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// NewLogger creates a logger writing under dir.
func NewLogger(dir string, opts ...Option) *Logger {
	l := &Logger{
		path:      dir,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SessionID identifies events written by this logger instance.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// SetHMACKey derives the chain key from the vault DEK and loads the chain tail.
func (l *Logger) SetHMACKey(dek []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := crypto.HKDF(dek, nil, hkdfInfo)
	if err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		// First run or unreadable state; Verify reports any break.
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// ClearKey wipes the HMAC key. Called when the vault locks.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	crypto.SecureWipe(l.hmacKey)
	l.hmacKey = nil
}

// HasKey reports whether the logger can write.
func (l *Logger) HasKey() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hmacKey != nil
}

// Log records an audit event. subject is an identifier such as an entry id;
// only its HMAC is stored.
func (l *Logger) Log(op, source, result, subject string, errInfo *ErrorInfo, ctx map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, store.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event id: %w", err)
	}
	now := l.now().UTC()

	event := Event{
		Version:   schemaVersion,
		ID:        id.String(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}
	if subject != "" {
		event.Subject = l.mac([]byte(subject))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(buildRecordData(&event))
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}
	return l.saveChainState()
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, subject string) error {
	return l.Log(op, source, ResultSuccess, subject, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, subject, errCode, errMsg string) error {
	return l.Log(op, source, ResultError, subject, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

// LogDenied is a convenience method for denied operations
func (l *Logger) LogDenied(op, source, subject, reason string) error {
	return l.Log(op, source, ResultDenied, subject, nil, map[string]string{"reason": reason})
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// buildRecordData serializes every field covered by the record HMAC.
// Context keys are sorted so the result is deterministic.
func buildRecordData(e *Event) []byte {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(strconv.Quote(s))
		b.WriteByte('|')
	}
	field(strconv.Itoa(e.Version))
	field(e.ID)
	field(e.Timestamp)
	field(e.Operation)
	field(e.Subject)
	field(e.Source)
	field(e.SessionID)
	field(e.Result)
	if e.Error != nil {
		field(e.Error.Code)
		field(e.Error.Message)
	} else {
		field("")
		field("")
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k + "=" + e.Context[k])
	}
	field(strconv.FormatInt(e.Chain.Sequence, 10))
	b.WriteString(strconv.Quote(e.Chain.PrevHash))
	return []byte(b.String())
}

// writeEvent appends an event to the log file for its month.
func (l *Logger) writeEvent(event *Event, now time.Time) error {
	path := filepath.Join(l.path, now.Format("2006-01")+logSuffix)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, store.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, ChainFileName))
	if err != nil {
		return err
	}
	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(ChainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, ChainFileName), data, store.FileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// Files returns the log files and chain state in chronological order.
// Missing directories yield an empty list.
func (l *Logger) Files() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	meta := filepath.Join(l.path, ChainFileName)
	if _, err := os.Stat(meta); err == nil {
		files = append(files, meta)
	}
	return files, nil
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*"+logSuffix))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Verify checks sequence numbers, back links and record HMACs across all
// log files.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.mac(buildRecordData(event)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}
	return result, nil
}

// ListEvents returns events after since (zero means all), keeping the most
// recent limit events (0 means all).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	filtered := filterEvents(events, since, time.Time{})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// filterEvents keeps events in (since, until]; zero bounds are open.
// Events with unparseable timestamps are dropped.
func filterEvents(events []Event, since, until time.Time) []Event {
	if since.IsZero() && until.IsZero() {
		return events
	}
	var out []Event
	for _, e := range events {
		ts, err := e.Time()
		if err != nil {
			continue
		}
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Export renders events between since and until as "json" or "csv".
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	filtered := filterEvents(events, since, until)

	switch format {
	case "json":
		if filtered == nil {
			filtered = []Event{}
		}
		return json.MarshalIndent(filtered, "", "  ")
	case "csv":
		return formatCSV(filtered)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func formatCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "operation", "result", "source", "subject"}); err != nil {
		return nil, err
	}
	for _, e := range events {
		subject := e.Subject
		if len(subject) > 16 {
			subject = subject[:16] + "..."
		}
		row := []string{e.Timestamp, e.Operation, e.Result, e.Source, subject}
		for i := range row {
			row[i] = neutralizeFormula(row[i])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// neutralizeFormula prefixes cells that spreadsheets would evaluate.
func neutralizeFormula(field string) string {
	if field == "" {
		return field
	}
	switch field[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + field
	}
	return field
}

// Prune deletes events older than olderThan and returns how many were
// removed. Pruning breaks the chain at the cut; Verify on a pruned trail
// reports the first remaining record.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}

		var remaining []Event
		for _, e := range events {
			ts, err := e.Time()
			if err == nil && ts.Before(cutoff) {
				deleted++
				continue
			}
			remaining = append(remaining, e)
		}

		switch {
		case len(remaining) == len(events):
			continue
		case len(remaining) == 0:
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("audit: failed to delete %s: %w", filepath.Base(file), err)
			}
		default:
			if err := rewriteLogFile(file, remaining); err != nil {
				return deleted, fmt.Errorf("audit: failed to rewrite %s: %w", filepath.Base(file), err)
			}
		}
	}

	if deleted > 0 {
		l.log.Info().Int("events", deleted).Time("cutoff", cutoff).Msg("audit log pruned")
	}
	return deleted, nil
}

// PrunePreview counts events Prune would delete.
func (l *Logger) PrunePreview(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	events, err := l.readAll()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range events {
		if ts, err := e.Time(); err == nil && ts.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func rewriteLogFile(path string, events []Event) error {
	var buf bytes.Buffer
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	fs, err := store.NewFileStore(filepath.Dir(path))
	if err != nil {
		return err
	}
	return fs.AtomicWriteAll(filepath.Base(path), buf.Bytes())
}

// checkDiskSpace verifies sufficient disk space for audit log writes.
// A failed check is logged and does not block the write.
func (l *Logger) checkDiskSpace() error {
	info, err := store.CheckDiskSpace(l.path)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to check disk space for audit")
		return nil
	}
	if info.Available < MinAuditDiskSpace {
		return fmt.Errorf("%w: only %d bytes available, need at least %d",
			ErrInsufficientDisk, info.Available, MinAuditDiskSpace)
	}
	return nil
}
