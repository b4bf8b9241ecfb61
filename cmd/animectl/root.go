package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/internal/logging"
	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/store"
	"github.com/forest6511/animectl/pkg/vault"
)

var (
	vaultDir string
	cfg      *config.Config
	logger   = logging.Nop()
)

// Global flags
var (
	flagDir       string
	flagVerbose   bool
	flagDebug     bool
	flagLogFormat string
	flagColor     string
)

var rootCmd = &cobra.Command{
	Use:   "animectl",
	Short: "animectl is an encrypted anime watchlist",
	Long: `animectl keeps your anime watchlist in an encrypted local vault.

Entries are encrypted with a random data key that is wrapped by your master
password and by a recovery secret shown once at init. Adult entries live in
a separate partition behind their own password.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand. It resolves the vault
	// directory, loads config.yaml and builds the logger.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Vault directory (default $ANIMECTL_HOME or ~/.animectl)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log informational messages")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log debug messages")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "Log format: console, json")
	rootCmd.PersistentFlags().StringVar(&flagColor, "color", "", "Color output: auto, always, never (default from config)")
}

func setup(cmd *cobra.Command) error {
	vaultDir = flagDir
	if vaultDir == "" {
		dir, err := config.ResolveDir()
		if err != nil {
			return err
		}
		vaultDir = dir
	}

	if flagLogFormat != "console" && flagLogFormat != "json" {
		return fmt.Errorf("invalid --log-format '%s' (use console or json)", flagLogFormat)
	}

	loaded, err := config.Load(vaultDir)
	if err != nil {
		return err
	}
	cfg = loaded

	mode := cfg.Color
	if flagColor != "" {
		mode = flagColor
	}
	if err := ui.SetColorMode(mode); err != nil {
		return err
	}

	log, err := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:   cfg.LogLevel,
		Verbose: flagVerbose,
		Debug:   flagDebug,
		JSON:    flagLogFormat == "json",
		NoColor: mode == config.ColorNever,
	})
	logger = log
	if err != nil {
		logger.Warn().Err(err).Msg("invalid log_level in config, using warn")
	}
	logger.Debug().Str("dir", vaultDir).Str("storage", cfg.Storage).Str("cipher", cfg.Cipher).Msg("config loaded")
	return nil
}

// vaultOptions translates config.yaml into vault options.
func vaultOptions(st store.Store) []vault.Option {
	return []vault.Option{
		vault.WithStore(st),
		vault.WithCipher(cfg.Cipher),
		vault.WithKDFCost(cfg.KDF.MemoryKiB, cfg.KDF.Time, cfg.KDF.Threads),
		vault.WithLogger(logger),
	}
}

// openVault opens the vault directory through the configured store.
func openVault() (*vault.Vault, error) {
	st, err := store.Open(cfg.Backend(), vaultDir, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	v, err := vault.New(vaultDir, vaultOptions(st)...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return v, nil
}

// spinnerEnabled reports whether slow steps should show a spinner.
func spinnerEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd())) && !flagVerbose && !flagDebug
}

// unlock prompts for the master password and opens a session.
func unlock(cmd *cobra.Command, v *vault.Vault) (*vault.Session, error) {
	exists, err := v.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, vault.ErrNotInitialized
	}

	password, err := promptPassword(cmd, "Enter master password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(password)

	sp := ui.StartSpinner(cmd.ErrOrStderr(), "Unlocking vault...", spinnerEnabled())
	s, err := v.Unlock(string(password))
	sp.Stop("")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// enterAdult prompts for the adult password and opens the adult gate.
func enterAdult(cmd *cobra.Command, s *vault.Session) error {
	if !s.AdultConfigured() {
		return vault.ErrNotConfigured
	}
	password, err := promptPassword(cmd, "Enter adult password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(password)

	sp := ui.StartSpinner(cmd.ErrOrStderr(), "Checking adult password...", spinnerEnabled())
	err = s.EnterAdult(string(password))
	sp.Stop("")
	return err
}

// withSession opens the vault, unlocks it (and the adult gate when adult is
// set), runs fn and locks again. fn decides whether to Save.
func withSession(cmd *cobra.Command, adult bool, fn func(v *vault.Vault, s *vault.Session) error) error {
	v, err := openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	s, err := unlock(cmd, v)
	if err != nil {
		return err
	}
	defer s.Lock()

	if adult {
		if err := enterAdult(cmd, s); err != nil {
			return err
		}
	}
	return fn(v, s)
}

// save persists session changes, if any.
func save(s *vault.Session) error {
	if !s.Dirty() {
		return nil
	}
	if err := s.Save(); err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}
