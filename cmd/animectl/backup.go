package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/backup"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/vault"
)

var (
	backupOutput         string
	backupStdout         bool
	backupWithAudit      bool
	backupBackupPassword bool
	backupKeyFile        string
	backupForce          bool
)

var keygenForce bool

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit log in backup")
	backupCmd.Flags().BoolVar(&backupBackupPassword, "backup-password", false, "Use separate backup password")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
	backupCmd.MarkFlagsMutuallyExclusive("output", "stdout")
	backupCmd.MarkFlagsMutuallyExclusive("key-file", "backup-password")

	backupKeygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "Overwrite existing key file")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted backup of the vault.

The backup holds the vault exactly as stored (still encrypted with its own
keys) wrapped in a second layer keyed by the master password, a separate
backup password or a key file.

Examples:
  # Backup to a file
  animectl backup -o vault-backup.anib

  # Backup with audit log
  animectl backup -o full-backup.anib --with-audit

  # Backup to stdout (for piping)
  animectl backup --stdout | gpg --encrypt > backup.gpg

  # Use separate backup password
  animectl backup -o backup.anib --backup-password

  # Use key file for encryption
  animectl backup keygen backup.key
  animectl backup -o backup.anib --key-file=backup.key`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if !backupStdout && backupOutput == "" {
		return errors.New("either --output or --stdout is required")
	}
	if !backupStdout && !backupForce {
		if _, err := os.Stat(backupOutput); err == nil {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
	}

	v, err := openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	exists, err := v.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return vault.ErrNotInitialized
	}

	// The master password proves ownership; it also keys the backup unless
	// a backup password or key file is given.
	master, err := promptPassword(cmd, "Enter master password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(master)

	sp := ui.StartSpinner(cmd.ErrOrStderr(), "Unlocking vault...", spinnerEnabled())
	s, err := v.Unlock(string(master))
	sp.Stop("")
	if err != nil {
		return err
	}
	defer s.Lock()

	password := master
	if backupKeyFile != "" {
		password = nil
	} else if backupBackupPassword {
		pw, err := promptNewPassword(cmd, "backup password", false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(pw)
		password = pw
	}

	var output io.Writer = cmd.OutOrStdout()
	if !backupStdout {
		f, err := os.OpenFile(backupOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	sp = ui.StartSpinner(cmd.ErrOrStderr(), "Encrypting backup...", spinnerEnabled() && !backupStdout)
	header, err := backup.Backup(v, backup.BackupOptions{
		Output:       output,
		IncludeAudit: backupWithAudit,
		Password:     password,
		KeyFile:      backupKeyFile,
		KDFMemory:    cfg.KDF.MemoryKiB,
		KDFTime:      cfg.KDF.Time,
		KDFThreads:   cfg.KDF.Threads,
	})
	sp.Stop("")
	if err != nil {
		if !backupStdout {
			_ = os.Remove(backupOutput)
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	if !backupStdout {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Backup created: %s %s\n",
			ui.Success.Sprint("✓"), ui.Path.Sprint(backupOutput), ui.Muted.Sprintf("%s, audit: %v", header.EncryptionMode, header.IncludesAudit))
	}
	return nil
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen <key-file>",
	Short: "Generate a random 32-byte backup key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !keygenForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("key file already exists: %s (use --force to overwrite)", path)
			}
		}
		if err := backup.GenerateKeyFile(path, rand.Reader); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Key file written to %s\n", ui.Success.Sprint("✓"), ui.Path.Sprint(path))
		fmt.Fprintln(cmd.OutOrStdout(), ui.Warning.Sprint("Keep it apart from your backups; without it they cannot be restored."))
		return nil
	},
}
