package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/vault"
)

var recoverRegenerate bool

func init() {
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(recoveryCmd)
	rootCmd.AddCommand(adultCmd)

	passwordCmd.AddCommand(passwordChangeCmd)
	recoveryCmd.AddCommand(recoveryRegenerateCmd)
	adultCmd.AddCommand(adultSetPasswordCmd)

	recoverCmd.Flags().BoolVar(&recoverRegenerate, "regenerate", false, "Also replace the recovery secret")
}

// passwordCmd is the parent command for password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Master password operations",
}

// passwordChangeCmd changes the master password.
var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	Long: `Change the master password by re-wrapping the data encryption key (DEK).

The entries are not re-encrypted and the recovery secret keeps working.
The change is atomic: either fully succeeds or has no effect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ *vault.Vault, s *vault.Session) error {
			return rekey(cmd, s)
		})
	},
}

// rekey prompts for a new master password and re-wraps the DEK.
func rekey(cmd *cobra.Command, s *vault.Session) error {
	newPassword, err := promptNewPassword(cmd, "new master password", true)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(newPassword)

	sp := ui.StartSpinner(cmd.ErrOrStderr(), "Re-wrapping key...", spinnerEnabled())
	err = s.Rekey(string(newPassword))
	sp.Stop("")
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Master password changed\n", ui.Success.Sprint("✓"))
	return nil
}

// recoverCmd resets the master password with the recovery secret.
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset the master password with the recovery secret",
	Long: `Unlock the vault with the recovery secret shown at init and choose a new
master password. Hyphens, spaces and letter case in the secret are ignored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		secret, err := promptPassword(cmd, "Enter recovery secret: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(secret)

		s, err := v.UnlockWithRecovery(string(secret))
		if err != nil {
			if errors.Is(err, vault.ErrAuthFailure) {
				fmt.Fprintln(cmd.ErrOrStderr(), vault.UnrecoverableLossNotice)
			}
			return err
		}
		defer s.Lock()

		if err := rekey(cmd, s); err != nil {
			return err
		}
		if recoverRegenerate {
			return regenerateRecovery(cmd, s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Your recovery secret is unchanged.")
		return nil
	},
}

// recoveryCmd is the parent command for recovery secret operations.
var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Recovery secret operations",
}

// recoveryRegenerateCmd replaces the recovery secret.
var recoveryRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Replace the recovery secret",
	Long:  `Replace the recovery secret. The old secret stops working immediately.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ *vault.Vault, s *vault.Session) error {
			return regenerateRecovery(cmd, s)
		})
	},
}

func regenerateRecovery(cmd *cobra.Command, s *vault.Session) error {
	secret, err := s.RegenerateRecovery()
	if err != nil {
		return fmt.Errorf("failed to regenerate recovery secret: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Recovery secret replaced\n\n", ui.Success.Sprint("✓"))
	printRecoverySecret(cmd, secret)
	return nil
}

// adultCmd is the parent command for adult partition operations.
var adultCmd = &cobra.Command{
	Use:   "adult",
	Short: "Adult partition operations",
}

// adultSetPasswordCmd sets or replaces the adult password.
var adultSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set or change the adult password",
	Long: `Set the adult password. Adult entries are listed, searched, counted and
exported only after entering it with --adult. Changing an existing adult
password asks for the current one first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ *vault.Vault, s *vault.Session) error {
			replacing := s.AdultConfigured()
			if replacing {
				if err := enterAdult(cmd, s); err != nil {
					return err
				}
			}

			password, err := promptNewPassword(cmd, "new adult password", false)
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(password)

			if err := s.SetAdultPassword(string(password)); err != nil {
				return err
			}
			if err := save(s); err != nil {
				return err
			}
			if replacing {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Adult password changed\n", ui.Success.Sprint("✓"))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Adult password set\n", ui.Success.Sprint("✓"))
			}
			return nil
		})
	},
}
