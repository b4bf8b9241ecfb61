package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testClock returns a clock that advances one minute per call.
func testClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(time.Minute)
		return t
	}
}

func newKeyedLogger(t *testing.T, opts ...Option) *Logger {
	t.Helper()
	logger := NewLogger(t.TempDir(), opts...)
	dek := make([]byte, 32)
	for i := range dek {
		dek[i] = byte(i)
	}
	if err := logger.SetHMACKey(dek); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	return logger
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	var events []Event
	for _, f := range files {
		evs, err := readLogFile(f)
		if err != nil {
			t.Fatalf("readLogFile(%s) failed: %v", f, err)
		}
		events = append(events, evs...)
	}
	return events
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	if logger.Path() != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, logger.Path())
	}
	if logger.prevHash != genesis {
		t.Errorf("expected prevHash %q, got %s", genesis, logger.prevHash)
	}
	if logger.SessionID() == "" {
		t.Error("expected non-empty session id")
	}
	if logger.HasKey() {
		t.Error("new logger should not have a key")
	}
}

func TestLogWithoutHMACKey(t *testing.T) {
	logger := NewLogger(t.TempDir())
	err := logger.LogSuccess(OpEntryAdd, SourceCLI, "1")
	if !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("expected ErrKeyNotSet, got %v", err)
	}
	if _, err := logger.Verify(); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("Verify without key: expected ErrKeyNotSet, got %v", err)
	}
}

func TestLogSuccessHashesSubject(t *testing.T) {
	logger := newKeyedLogger(t)

	if err := logger.LogSuccess(OpEntryAdd, SourceCLI, "42"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]

	if event.Version != 1 {
		t.Errorf("expected version 1, got %d", event.Version)
	}
	if event.Operation != OpEntryAdd {
		t.Errorf("expected operation %s, got %s", OpEntryAdd, event.Operation)
	}
	if event.Source != SourceCLI {
		t.Errorf("expected source %s, got %s", SourceCLI, event.Source)
	}
	if event.Subject == "" || event.Subject == "42" {
		t.Errorf("subject should be an HMAC, got %q", event.Subject)
	}
	if event.Chain.Sequence != 1 || event.Chain.PrevHash != genesis {
		t.Errorf("unexpected chain start: %+v", event.Chain)
	}
}

func TestLogErrorAndDenied(t *testing.T) {
	logger := newKeyedLogger(t)

	if err := logger.LogError(OpAdultEnterFailed, SourceCLI, "", "AUTH_FAILED", "authentication failed"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	if err := logger.LogDenied(OpAdultEnter, SourceMCP, "", "adult gate unavailable"); err != nil {
		t.Fatalf("LogDenied failed: %v", err)
	}

	events := readEvents(t, logger.Path())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Result != ResultError || events[0].Error == nil || events[0].Error.Code != "AUTH_FAILED" {
		t.Errorf("unexpected error event: %+v", events[0])
	}
	if events[1].Result != ResultDenied || events[1].Context["reason"] != "adult gate unavailable" {
		t.Errorf("unexpected denied event: %+v", events[1])
	}
}

func TestChainVerify(t *testing.T) {
	logger := newKeyedLogger(t)

	for i := 0; i < 5; i++ {
		if err := logger.LogSuccess(OpEntryUpdate, SourceCLI, "7"); err != nil {
			t.Fatalf("LogSuccess failed on iteration %d: %v", i, err)
		}
	}

	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 || result.RecordsVerified != 5 {
		t.Errorf("expected 5/5 records, got %d/%d", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestChainSurvivesNewLogger(t *testing.T) {
	logger := newKeyedLogger(t)
	if err := logger.LogSuccess(OpVaultSetup, SourceCLI, ""); err != nil {
		t.Fatal(err)
	}

	// A second process re-derives the same key and continues the chain.
	next := NewLogger(logger.Path())
	dek := make([]byte, 32)
	for i := range dek {
		dek[i] = byte(i)
	}
	if err := next.SetHMACKey(dek); err != nil {
		t.Fatal(err)
	}
	if err := next.LogSuccess(OpVaultUnlock, SourceCLI, ""); err != nil {
		t.Fatal(err)
	}

	result, err := next.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 2 {
		t.Errorf("expected valid 2-record chain, got %+v", result)
	}
}

func TestTamperDetection(t *testing.T) {
	logger := newKeyedLogger(t)
	for i := 0; i < 3; i++ {
		if err := logger.LogSuccess(OpEntryAdd, SourceCLI, "1"); err != nil {
			t.Fatal(err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(logger.Path(), "*.jsonl"))
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"op":"entry.add"`), []byte(`"op":"entry.remove"`), 1)
	if err := os.WriteFile(files[0], tampered, 0600); err != nil {
		t.Fatal(err)
	}

	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("expected tampering to be detected")
	}
	if result.RecordsVerified != 2 {
		t.Errorf("expected 2 intact records, got %d", result.RecordsVerified)
	}
}

func TestDeletedRecordDetected(t *testing.T) {
	logger := newKeyedLogger(t)
	for i := 0; i < 3; i++ {
		if err := logger.LogSuccess(OpEntryAdd, SourceCLI, "1"); err != nil {
			t.Fatal(err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(logger.Path(), "*.jsonl"))
	data, _ := os.ReadFile(files[0])
	lines := strings.SplitAfter(string(data), "\n")
	// Drop the middle record.
	if err := os.WriteFile(files[0], []byte(lines[0]+lines[2]), 0600); err != nil {
		t.Fatal(err)
	}

	result, err := logger.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("expected a missing record to break the chain")
	}
}

func TestListEvents(t *testing.T) {
	start := time.Date(2026, 1, 31, 23, 58, 0, 0, time.UTC)
	logger := newKeyedLogger(t, WithClock(testClock(start)))

	for i := 0; i < 4; i++ {
		if err := logger.LogSuccess(OpEntryAdd, SourceCLI, ""); err != nil {
			t.Fatal(err)
		}
	}

	// Events span a month boundary and two files.
	files, _ := filepath.Glob(filepath.Join(logger.Path(), "*.jsonl"))
	if len(files) != 2 {
		t.Fatalf("expected 2 monthly files, got %d", len(files))
	}

	all, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	for i, e := range all {
		if e.Chain.Sequence != int64(i+1) {
			t.Errorf("event %d out of order: seq %d", i, e.Chain.Sequence)
		}
	}

	last, _ := logger.ListEvents(2, time.Time{})
	if len(last) != 2 || last[1].Chain.Sequence != 4 {
		t.Errorf("limit should keep the most recent events, got %+v", last)
	}

	since, _ := logger.ListEvents(0, start.Add(time.Minute))
	if len(since) != 2 {
		t.Errorf("expected 2 events after since, got %d", len(since))
	}

	result, err := logger.Verify()
	if err != nil || !result.Valid {
		t.Errorf("chain across files should verify: %+v, %v", result, err)
	}
}

func TestExport(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	logger := newKeyedLogger(t, WithClock(testClock(start)))
	for _, op := range []string{OpVaultUnlock, OpEntryExport, OpVaultLock} {
		if err := logger.LogSuccess(op, SourceCLI, ""); err != nil {
			t.Fatal(err)
		}
	}

	data, err := logger.Export("json", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Export json failed: %v", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 exported events, got %d", len(events))
	}

	csvData, err := logger.Export("csv", time.Time{}, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Export csv failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 { // header + 2 rows
		t.Errorf("expected header and 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,operation,result,source,subject" {
		t.Errorf("unexpected header %q", lines[0])
	}

	if _, err := logger.Export("xml", time.Time{}, time.Time{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNeutralizeFormula(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"entry.add", "entry.add"},
		{"=SUM(A1)", "'=SUM(A1)"},
		{"+1", "'+1"},
		{"-1", "'-1"},
		{"@cmd", "'@cmd"},
	}
	for _, tt := range tests {
		if got := neutralizeFormula(tt.in); got != tt.want {
			t.Errorf("neutralizeFormula(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrune(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	logger := newKeyedLogger(t, WithClock(func() time.Time { return clock }))

	// Two old events in January, one recent in June.
	for _, at := range []time.Time{start, start.Add(time.Hour), start.AddDate(0, 5, 0)} {
		clock = at
		if err := logger.LogSuccess(OpEntryAdd, SourceCLI, ""); err != nil {
			t.Fatal(err)
		}
	}
	clock = start.AddDate(0, 6, 0)

	preview, err := logger.PrunePreview(90 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if preview != 2 {
		t.Errorf("PrunePreview = %d, want 2", preview)
	}

	deleted, err := logger.Prune(90 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("Prune = %d, want 2", deleted)
	}

	remaining, _ := logger.ListEvents(0, time.Time{})
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(remaining))
	}
	files, _ := filepath.Glob(filepath.Join(logger.Path(), "*.jsonl"))
	if len(files) != 1 {
		t.Errorf("empty monthly file should be removed, %d files left", len(files))
	}
}

func TestFilesIncludesChainState(t *testing.T) {
	logger := newKeyedLogger(t)
	files, err := logger.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files before first write, got %v", files)
	}

	if err := logger.LogSuccess(OpVaultSetup, SourceCLI, ""); err != nil {
		t.Fatal(err)
	}
	files, _ = logger.Files()
	if len(files) != 2 || filepath.Base(files[1]) != ChainFileName {
		t.Errorf("expected log file and chain state, got %v", files)
	}

	logger.ClearKey()
	if logger.HasKey() {
		t.Error("ClearKey should drop the key")
	}
}
