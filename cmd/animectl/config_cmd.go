package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/internal/ui"
)

var (
	configInitStorage string
	configInitCipher  string
	configInitForce   bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&configInitStorage, "storage", "", "Storage backend: file, sqlite, bolt")
	configInitCmd.Flags().StringVar(&configInitCipher, "cipher", "", "Cipher for new vaults")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config.yaml")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write config.yaml",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path := config.Path(vaultDir)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "# %s %s\n", path, ui.Muted.Sprint("(defaults)"))
		} else {
			fmt.Fprintf(out, "# %s\n", path)
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml with default values",
	Long: `Write config.yaml into the vault directory with 0600 permissions.
Storage and cipher apply to vaults created afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.Default()
		if configInitStorage != "" {
			c.Storage = configInitStorage
		}
		if configInitCipher != "" {
			c.Cipher = configInitCipher
		}
		if err := c.Save(vaultDir, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Config written to %s\n", ui.Success.Sprint("✓"), ui.Path.Sprint(config.Path(vaultDir)))
		return nil
	},
}
