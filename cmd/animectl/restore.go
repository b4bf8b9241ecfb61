package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/backup"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/vault"
)

var (
	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreOnConflict string
	restoreKeyFile    string
	restoreForce      bool
	restoreWithAudit  bool
	restoreSkipCheck  bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without making changes")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().StringVar(&restoreOnConflict, "on-conflict", "error", "Existing vault: error, overwrite")
	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip confirmation prompt")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore audit log (overwrites existing)")
	restoreCmd.Flags().BoolVar(&restoreSkipCheck, "skip-unlock-check", false, "Do not unlock the restored vault afterwards")
	restoreCmd.MarkFlagsMutuallyExclusive("dry-run", "verify-only")
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore vault from encrypted backup",
	Long: `Restore the vault from an encrypted backup file.

After restoring, animectl asks for the master password of the restored vault
to confirm it opens. The master password at backup time applies, not the
current one.

Examples:
  # Dry run (preview only)
  animectl restore backup.anib --dry-run

  # Verify backup integrity without restoring
  animectl restore backup.anib --verify-only

  # Replace an existing vault
  animectl restore backup.anib --on-conflict=overwrite

  # Restore with audit log
  animectl restore backup.anib --with-audit

  # Use key file for decryption
  animectl restore backup.anib --key-file=backup.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeRestore,
}

func executeRestore(cmd *cobra.Command, args []string) error {
	backupPath := args[0]

	conflictMode, err := backup.ParseConflictMode(restoreOnConflict)
	if err != nil {
		return err
	}
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}

	var password []byte
	if restoreKeyFile == "" {
		password, err = promptPassword(cmd, "Enter backup password (or master password at backup time): ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)
	}

	out := cmd.OutOrStdout()

	if restoreVerifyOnly {
		sp := ui.StartSpinner(cmd.ErrOrStderr(), "Verifying backup...", spinnerEnabled())
		result, err := backup.Verify(backupPath, password, restoreKeyFile)
		sp.Stop("")
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("verification failed: %s", result.Error)
		}
		fmt.Fprintf(out, "%s Backup verification successful\n", ui.Success.Sprint("✓"))
		fmt.Fprintf(out, "  Version: %d\n", result.Version)
		fmt.Fprintf(out, "  Created: %s\n", result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "  Vault ID: %s\n", result.VaultID)
		fmt.Fprintf(out, "  Audit files: %d\n", result.AuditFiles)
		return nil
	}

	v, err := openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	if !restoreForce && !restoreDryRun {
		if !confirm(cmd, "This will restore the vault from backup. Continue?") {
			fmt.Fprintln(out, "Restore cancelled.")
			return nil
		}
	}

	sp := ui.StartSpinner(cmd.ErrOrStderr(), "Decrypting backup...", spinnerEnabled())
	result, err := backup.Restore(backupPath, v, backup.RestoreOptions{
		OnConflict: conflictMode,
		DryRun:     restoreDryRun,
		WithAudit:  restoreWithAudit,
		Password:   password,
		KeyFile:    restoreKeyFile,
	})
	sp.Stop("")
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if result.DryRun {
		fmt.Fprintln(out, "Dry run complete. Would restore:")
	} else {
		fmt.Fprintf(out, "%s Restore complete\n", ui.Success.Sprint("✓"))
	}
	fmt.Fprintf(out, "  Vault ID: %s\n", result.VaultID)
	fmt.Fprintf(out, "  Replaced existing vault: %v\n", result.Overwrote)
	if restoreWithAudit {
		fmt.Fprintf(out, "  Audit files: %d\n", result.AuditFilesRestored)
	}

	if result.DryRun || restoreSkipCheck {
		return nil
	}
	return checkRestored(cmd, v, result)
}

// checkRestored unlocks the restored vault once and records the restore in
// its audit trail.
func checkRestored(cmd *cobra.Command, v *vault.Vault, result *backup.RestoreResult) error {
	s, err := unlock(cmd, v)
	if err != nil {
		if errors.Is(err, vault.ErrAuthFailure) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s The restore succeeded, but that password does not open it.\n", ui.Warning.Sprint("Warning:"))
		}
		return err
	}
	defer s.Lock()

	if l := v.Audit(); l != nil && l.HasKey() {
		if err := l.Log(audit.OpBackupRestore, audit.SourceCLI, audit.ResultSuccess, "", nil, map[string]string{
			"overwrote":   strconv.FormatBool(result.Overwrote),
			"audit_files": strconv.Itoa(result.AuditFilesRestored),
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record restore in audit log")
		}
	}

	info, err := s.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Restored vault opens: %d entries\n", ui.Success.Sprint("✓"), info.EntryCount)
	return nil
}
