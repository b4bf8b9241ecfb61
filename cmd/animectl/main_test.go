package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

const (
	testMaster = "Tr0ub4dor&3-anime"
	testAdult  = "adult-gate-pass"
)

// testConfig keeps Argon2id cheap so each command runs fast.
const testConfig = `kdf:
  memory_kib: 64
  time: 1
  threads: 1
color: never
`

// newTestDir returns a vault directory with a cheap config.yaml.
func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte(testConfig), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

// result captures one command run.
type result struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes animectl against dir. passwords answer the no-echo
// prompts in order; input feeds line prompts.
func runCLI(t *testing.T, dir string, passwords []string, input string, args ...string) result {
	t.Helper()
	resetFlags(rootCmd)

	queue := append([]string(nil), passwords...)
	oldRead, oldStdin := readPassword, stdin
	readPassword = func(int) ([]byte, error) {
		if len(queue) == 0 {
			return nil, errors.New("unexpected password prompt")
		}
		pw := []byte(queue[0])
		queue = queue[1:]
		return pw, nil
	}
	stdin = bufio.NewReader(strings.NewReader(input))
	defer func() {
		readPassword, stdin = oldRead, oldStdin
	}()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--dir", dir}, args...))
	err := rootCmd.Execute()

	if err == nil && len(queue) > 0 {
		t.Errorf("%v: %d password answers left unused", args, len(queue))
	}
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// mustRun is runCLI that fails the test on error.
func mustRun(t *testing.T, dir string, passwords []string, input string, args ...string) string {
	t.Helper()
	res := runCLI(t, dir, passwords, input, args...)
	if res.err != nil {
		t.Fatalf("animectl %s: %v\nstderr:\n%s", strings.Join(args, " "), res.err, res.stderr)
	}
	return res.stdout
}

// resetFlags restores every flag to its default between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// initVault creates a vault in dir and returns the recovery secret line
// exactly as printed, indentation included.
func initVault(t *testing.T, dir string) string {
	t.Helper()
	out := mustRun(t, dir, []string{testMaster, testMaster}, "", "init")
	if !strings.Contains(out, "Vault initialized") {
		t.Fatalf("init output missing confirmation:\n%s", out)
	}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "Recovery secret") && i+2 < len(lines) {
			return lines[i+2]
		}
	}
	t.Fatalf("no recovery secret in init output:\n%s", out)
	return ""
}

func master() []string { return []string{testMaster} }

func TestInitTwiceFails(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)

	res := runCLI(t, dir, nil, "", "init")
	if !errors.Is(res.err, vault.ErrAlreadyInitialized) {
		t.Fatalf("second init: got %v, want ErrAlreadyInitialized", res.err)
	}
}

func TestInitRejectsMismatchedPasswords(t *testing.T) {
	dir := newTestDir(t)
	res := runCLI(t, dir, []string{testMaster, testMaster + "x"}, "", "init")
	if res.err == nil || !strings.Contains(res.err.Error(), "do not match") {
		t.Fatalf("got %v, want mismatch error", res.err)
	}
}

func TestCommandsBeforeInit(t *testing.T) {
	dir := newTestDir(t)
	res := runCLI(t, dir, nil, "", "list")
	if !errors.Is(res.err, vault.ErrNotInitialized) {
		t.Fatalf("list before init: got %v, want ErrNotInitialized", res.err)
	}
}

func TestWrongMasterPassword(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)

	res := runCLI(t, dir, []string{"not-the-password"}, "", "list")
	if !errors.Is(res.err, vault.ErrAuthFailure) {
		t.Fatalf("got %v, want ErrAuthFailure", res.err)
	}
}

func TestEntryLifecycle(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)

	out := mustRun(t, dir, master(), "", "add", "Cowboy Bebop",
		"--status", "completed", "-e", "26", "-t", "26", "-r", "9", "-g", "Action, Sci-Fi")
	if !strings.Contains(out, "Added 'Cowboy Bebop'") {
		t.Errorf("add output = %q", out)
	}
	mustRun(t, dir, master(), "", "add", "Frieren", "-s", "watching", "-e", "3", "-g", "Fantasy")
	mustRun(t, dir, master(), "", "add", "Mushishi")

	out = mustRun(t, dir, master(), "", "list")
	for _, title := range []string{"Cowboy Bebop", "Frieren", "Mushishi"} {
		if !strings.Contains(out, title) {
			t.Errorf("list missing %q:\n%s", title, out)
		}
	}
	if !strings.Contains(out, "Total: 3 entries") {
		t.Errorf("list total wrong:\n%s", out)
	}

	out = mustRun(t, dir, master(), "", "list", "--status", "watching")
	if !strings.Contains(out, "Frieren") || strings.Contains(out, "Mushishi") {
		t.Errorf("status filter wrong:\n%s", out)
	}

	out = mustRun(t, dir, master(), "", "update", "frieren", "--next")
	if !strings.Contains(out, "Updated 'Frieren'") || !strings.Contains(out, "4/?") {
		t.Errorf("update --next output = %q", out)
	}

	out = mustRun(t, dir, master(), "", "show", "Frieren")
	if !strings.Contains(out, "Episodes:") || !strings.Contains(out, "4/?") {
		t.Errorf("show output:\n%s", out)
	}

	out = mustRun(t, dir, master(), "", "search", "sci")
	if !strings.Contains(out, "Cowboy Bebop") || strings.Contains(out, "Frieren") {
		t.Errorf("search output:\n%s", out)
	}

	out = mustRun(t, dir, master(), "", "update", "Cowboy*", "--clear-rating")
	if !strings.Contains(out, "Updated 'Cowboy Bebop'") {
		t.Errorf("update pattern output = %q", out)
	}

	// Declining the confirmation keeps the entry.
	out = mustRun(t, dir, master(), "n\n", "delete", "Mushishi")
	if !strings.Contains(out, "Aborted") {
		t.Errorf("declined delete output = %q", out)
	}
	out = mustRun(t, dir, master(), "y\n", "delete", "Mushishi")
	if !strings.Contains(out, "Deleted 1 entries") {
		t.Errorf("delete output = %q", out)
	}

	out = mustRun(t, dir, master(), "", "list")
	if strings.Contains(out, "Mushishi") || !strings.Contains(out, "Total: 2 entries") {
		t.Errorf("list after delete:\n%s", out)
	}
}

func TestUpdateValidation(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)
	mustRun(t, dir, master(), "", "add", "Frieren")

	res := runCLI(t, dir, nil, "", "update", "Frieren")
	if res.err == nil || !strings.Contains(res.err.Error(), "nothing to update") {
		t.Errorf("empty update: got %v", res.err)
	}

	res = runCLI(t, dir, nil, "", "update", "Frieren", "-e", "3", "--next")
	if res.err == nil {
		t.Error("--episodes with --next should fail")
	}

	res = runCLI(t, dir, master(), "", "update", "No Such Show", "--next")
	if res.err == nil {
		t.Error("update of unknown title should fail")
	}

	res = runCLI(t, dir, master(), "", "update", "Frieren", "-r", "11")
	if !errors.Is(res.err, vault.ErrInvalidEntry) {
		t.Errorf("rating 11: got %v, want ErrInvalidEntry", res.err)
	}

	for _, args := range [][]string{{"-r", "NaN"}, {"--hours", "+Inf"}} {
		res = runCLI(t, dir, master(), "", append([]string{"update", "Frieren"}, args...)...)
		if !errors.Is(res.err, vault.ErrInvalidEntry) {
			t.Errorf("update %v: got %v, want ErrInvalidEntry", args, res.err)
		}
	}
	// The vault still saves after the rejected updates.
	mustRun(t, dir, master(), "", "update", "Frieren", "-r", "8")
}

func TestStatsJSON(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)
	mustRun(t, dir, master(), "", "add", "Cowboy Bebop", "-s", "completed", "-e", "26", "-t", "26", "-g", "Action")
	mustRun(t, dir, master(), "", "add", "Naruto", "-s", "watching", "-e", "10", "-g", "Action")

	out := mustRun(t, dir, master(), "", "stats", "--json")
	var got struct {
		TotalEntries         int            `json:"total_entries"`
		TotalEpisodesWatched int            `json:"total_episodes_watched"`
		GenreHistogram       map[string]int `json:"genre_histogram"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stats --json is not JSON: %v\n%s", err, out)
	}
	if got.TotalEntries != 2 || got.TotalEpisodesWatched != 36 || got.GenreHistogram["Action"] != 2 {
		t.Errorf("stats = %+v", got)
	}
}

func TestAdultPartition(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)
	mustRun(t, dir, master(), "", "add", "Frieren")

	res := runCLI(t, dir, master(), "", "list", "--adult")
	if !errors.Is(res.err, vault.ErrNotConfigured) {
		t.Fatalf("--adult before set-password: got %v", res.err)
	}

	out := mustRun(t, dir, []string{testMaster, testAdult, testAdult}, "", "adult", "set-password")
	if !strings.Contains(out, "Adult password set") {
		t.Errorf("set-password output = %q", out)
	}

	mustRun(t, dir, []string{testMaster, testAdult}, "", "add", "Hidden Show", "--adult")

	out = mustRun(t, dir, master(), "", "list")
	if strings.Contains(out, "Hidden Show") || !strings.Contains(out, "Total: 1 entries") {
		t.Errorf("adult entry visible without gate:\n%s", out)
	}

	out = mustRun(t, dir, []string{testMaster, testAdult}, "", "list", "--adult")
	if !strings.Contains(out, "Hidden Show") || !strings.Contains(out, "Total: 2 entries") {
		t.Errorf("adult entry missing with gate:\n%s", out)
	}

	res = runCLI(t, dir, []string{testMaster, "wrong"}, "", "list", "--adult")
	if !errors.Is(res.err, vault.ErrAuthFailure) {
		t.Errorf("wrong adult password: got %v, want ErrAuthFailure", res.err)
	}

	out = mustRun(t, dir, master(), "", "export")
	if strings.Contains(out, "Hidden Show") {
		t.Errorf("export leaked adult entry:\n%s", out)
	}
}

func TestExportImport(t *testing.T) {
	src := newTestDir(t)
	initVault(t, src)
	mustRun(t, src, master(), "", "add", "Cowboy Bebop", "-s", "completed", "-e", "26", "-t", "26")
	mustRun(t, src, master(), "", "add", "Frieren", "-s", "watching", "-e", "3")

	exportPath := filepath.Join(t.TempDir(), "watchlist.json")
	mustRun(t, src, master(), "", "export", "-o", exportPath)

	info, err := os.Stat(exportPath)
	if err != nil {
		t.Fatalf("export file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("export permissions = %o, want 600", perm)
	}

	res := runCLI(t, src, nil, "", "export", "-o", exportPath)
	if res.err == nil || !strings.Contains(res.err.Error(), "already exists") {
		t.Errorf("export over existing file: got %v", res.err)
	}

	dst := newTestDir(t)
	initVault(t, dst)

	out := mustRun(t, dst, nil, "", "import", exportPath, "--dry-run")
	if !strings.Contains(out, "would import 2 entries") {
		t.Errorf("dry-run output = %q", out)
	}

	out = mustRun(t, dst, master(), "", "import", exportPath)
	if !strings.Contains(out, "Imported 2 entries") {
		t.Errorf("import output = %q", out)
	}
	out = mustRun(t, dst, master(), "", "import", exportPath, "--mode", "replace", "--force")
	if !strings.Contains(out, "Imported 2 entries") || !strings.Contains(out, "Removed: 2") {
		t.Errorf("replace import output = %q", out)
	}

	out = mustRun(t, dst, master(), "", "export")
	var doc watchlist.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if len(doc.Entries) != 2 {
		t.Errorf("entries after replace = %d, want 2", len(doc.Entries))
	}
}

func TestBackupRestore(t *testing.T) {
	src := newTestDir(t)
	initVault(t, src)
	mustRun(t, src, master(), "", "add", "Cowboy Bebop")
	mustRun(t, src, master(), "", "add", "Frieren")

	backupPath := filepath.Join(t.TempDir(), "vault.anib")
	out := mustRun(t, src, master(), "", "backup", "-o", backupPath, "--with-audit")
	if !strings.Contains(out, "Backup created") {
		t.Errorf("backup output = %q", out)
	}

	out = mustRun(t, src, master(), "", "restore", backupPath, "--verify-only")
	if !strings.Contains(out, "Backup verification successful") {
		t.Errorf("verify-only output = %q", out)
	}

	res := runCLI(t, src, []string{"wrong-password"}, "", "restore", backupPath, "--verify-only")
	if res.err == nil {
		t.Error("verify with wrong password should fail")
	}

	dst := newTestDir(t)
	out = mustRun(t, dst, []string{testMaster, testMaster}, "", "restore", backupPath, "--force", "--with-audit")
	if !strings.Contains(out, "Restore complete") || !strings.Contains(out, "Restored vault opens: 2 entries") {
		t.Errorf("restore output:\n%s", out)
	}

	// A second restore over the now existing vault needs --on-conflict.
	res = runCLI(t, dst, master(), "", "restore", backupPath, "--force")
	if res.err == nil {
		t.Error("restore over existing vault should fail without --on-conflict=overwrite")
	}
}

func TestPasswordChangeAndRecovery(t *testing.T) {
	dir := newTestDir(t)
	secret := initVault(t, dir)
	mustRun(t, dir, master(), "", "add", "Frieren")

	newMaster := "N3w-master-password!"
	mustRun(t, dir, []string{testMaster, newMaster, newMaster}, "", "password", "change")

	res := runCLI(t, dir, master(), "", "list")
	if !errors.Is(res.err, vault.ErrAuthFailure) {
		t.Fatalf("old password after change: got %v", res.err)
	}
	mustRun(t, dir, []string{newMaster}, "", "list")

	out := mustRun(t, dir, []string{secret, testMaster, testMaster}, "", "recover")
	if !strings.Contains(out, "Master password changed") {
		t.Errorf("recover output = %q", out)
	}
	out = mustRun(t, dir, master(), "", "list")
	if !strings.Contains(out, "Frieren") {
		t.Errorf("entries lost after recovery:\n%s", out)
	}
}

func TestRecoverWithPrintedSecret(t *testing.T) {
	dir := newTestDir(t)
	printed := initVault(t, dir)
	if strings.ContainsAny(printed, "'\"`") {
		t.Errorf("recovery secret printed with quotes: %q", printed)
	}
	mustRun(t, dir, master(), "", "add", "Frieren")

	out := mustRun(t, dir, []string{printed, testMaster, testMaster}, "", "recover")
	if !strings.Contains(out, "Master password changed") {
		t.Errorf("recover output = %q", out)
	}

	// A copy that picked up quotes still works.
	mustRun(t, dir, []string{"'" + strings.TrimSpace(printed) + "'", testMaster, testMaster}, "", "recover")
}

func TestAuditCommands(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)
	mustRun(t, dir, master(), "", "add", "Frieren")

	out := mustRun(t, dir, master(), "", "audit", "list")
	for _, op := range []string{"vault.setup", "vault.unlock", "entry.add"} {
		if !strings.Contains(out, op) {
			t.Errorf("audit list missing %s:\n%s", op, out)
		}
	}

	out = mustRun(t, dir, master(), "", "audit", "verify")
	if !strings.Contains(out, "chain unbroken") {
		t.Errorf("audit verify output:\n%s", out)
	}

	out = mustRun(t, dir, master(), "", "audit", "prune", "--older-than", "30d", "--dry-run")
	if !strings.Contains(out, "Would drop 0") {
		t.Errorf("prune dry-run output = %q", out)
	}

	res := runCLI(t, dir, nil, "", "audit", "prune")
	if res.err == nil {
		t.Error("prune without --older-than should fail")
	}
}

func TestInfoWithoutUnlock(t *testing.T) {
	dir := newTestDir(t)
	initVault(t, dir)

	out := mustRun(t, dir, nil, "", "info", "--json")
	var got struct {
		VaultID string `json:"vault_id"`
		Storage string `json:"storage"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("info --json is not JSON: %v\n%s", err, out)
	}
	if got.Storage != "file" {
		t.Errorf("storage = %q, want file", got.Storage)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, nil, "", "config", "show")
	if !strings.Contains(out, "(defaults)") {
		t.Errorf("config show without file = %q", out)
	}

	mustRun(t, dir, nil, "", "config", "init", "--storage", "bolt")
	info, err := os.Stat(config.Path(dir))
	if err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config permissions = %o, want 600", perm)
	}

	res := runCLI(t, dir, nil, "", "config", "init")
	if res.err == nil {
		t.Error("config init over existing file should fail without --force")
	}

	out = mustRun(t, dir, nil, "", "config", "show")
	if !strings.Contains(out, "storage: bolt") {
		t.Errorf("config show = %q", out)
	}
}

func TestCompletion(t *testing.T) {
	dir := newTestDir(t)
	out := mustRun(t, dir, nil, "", "completion", "bash")
	if !strings.Contains(out, "animectl") {
		t.Error("bash completion does not mention animectl")
	}
}
