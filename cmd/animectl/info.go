package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/vault"
)

var (
	infoUnlock bool
	infoJSON   bool
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVarP(&infoUnlock, "unlock", "u", false, "Unlock to include entry counts")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
}

// infoCmd shows vault metadata
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Shows vault metadata",
	Long: `Shows the vault header: id, format version, cipher, key methods and KDF
cost. The header is readable without the password; --unlock adds entry
counts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		var info *vault.Info
		if infoUnlock {
			s, err := unlock(cmd, v)
			if err != nil {
				return err
			}
			defer s.Lock()
			info, err = s.Info()
			if err != nil {
				return err
			}
		} else {
			info, err = v.Info()
			if err != nil {
				return err
			}
		}

		lock, err := v.GetLockState()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read lock state")
		}

		out := cmd.OutOrStdout()
		if infoJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*vault.Info
				Storage   string           `json:"storage"`
				LockState *vault.LockState `json:"lock_state,omitempty"`
			}{info, cfg.Storage, lock})
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Path:\t%s\n", ui.Path.Sprint(info.Path))
		fmt.Fprintf(tw, "Storage:\t%s\n", cfg.Storage)
		fmt.Fprintf(tw, "Vault ID:\t%s\n", info.VaultID)
		fmt.Fprintf(tw, "Format version:\t%d\n", info.Version)
		fmt.Fprintf(tw, "Created:\t%s\n", info.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(tw, "Cipher:\t%s\n", info.Cipher)
		fmt.Fprintf(tw, "Key methods:\t%s\n", strings.Join(info.KeyMethods, ", "))
		fmt.Fprintf(tw, "Password KDF:\t%s %s\n", info.PasswordKDF,
			ui.Muted.Sprintf("m=%d KiB, t=%d, p=%d", info.KDFMemory, info.KDFTime, info.KDFThreads))
		if info.Unlocked {
			fmt.Fprintf(tw, "Entries:\t%d\n", info.EntryCount)
			fmt.Fprintf(tw, "Adult password:\t%v\n", info.AdultConfigured)
			fmt.Fprintf(tw, "Last saved:\t%s\n", info.UpdatedAt.Local().Format(time.DateTime))
		}
		if lock != nil && lock.FailedAttempts > 0 {
			fmt.Fprintf(tw, "Failed unlocks:\t%d\n", lock.FailedAttempts)
		}
		if remaining := v.RemainingCooldown(); remaining > 0 {
			fmt.Fprintf(tw, "Cooldown:\t%s\n", ui.Warning.Sprint(remaining.Round(time.Second).String()))
		}
		return tw.Flush()
	},
}
