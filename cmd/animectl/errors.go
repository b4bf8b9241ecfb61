package main

import (
	"errors"
	"fmt"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/pkg/backup"
	"github.com/forest6511/animectl/pkg/vault"
)

// friendlyError rewrites well-known failures into a message with a hint.
// Anything else is returned unchanged.
func friendlyError(err error) error {
	switch {
	case errors.Is(err, vault.ErrAuthFailure) && errors.Is(err, vault.ErrCooldownActive):
		return errors.New("incorrect password; further attempts are delayed (see 'animectl info')")
	case errors.Is(err, vault.ErrCooldownActive):
		return fmt.Errorf("unlocking is paused after repeated failures: %w", err)
	case errors.Is(err, vault.ErrAuthFailure):
		return errors.New("incorrect password")
	case errors.Is(err, vault.ErrNotInitialized):
		return fmt.Errorf("no vault in %s (run 'animectl init' first)", vaultDir)
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return fmt.Errorf("a vault already exists in %s", vaultDir)
	case errors.Is(err, vault.ErrCorruptData):
		return errors.New("vault data is corrupted; restore it from a backup with 'animectl restore'")
	case errors.Is(err, vault.ErrNotConfigured):
		return errors.New("no adult password is set (run 'animectl adult set-password')")
	case errors.Is(err, vault.ErrTooManyAttempts):
		return errors.New("too many wrong adult passwords; the adult partition stays locked for this session")
	case errors.Is(err, vault.ErrAdultLocked):
		return errors.New("that needs the adult partition (use --adult)")
	case errors.Is(err, vault.ErrEntryNotFound):
		return errors.New("no such entry")
	case errors.Is(err, vault.ErrPasswordTooShort):
		return errors.New("password must be at least 8 characters")
	case errors.Is(err, backup.ErrIntegrityFailed):
		return errors.New("backup integrity check failed: the file was modified or the key is wrong")
	case errors.Is(err, backup.ErrDecryptionFailed):
		return errors.New("cannot decrypt backup: wrong password or key file")
	case errors.Is(err, backup.ErrConflict):
		return errors.New("a vault already exists here (use --on-conflict=overwrite to replace it)")
	case errors.Is(err, config.ErrConfigInsecure):
		return fmt.Errorf("%s must not be readable by others (run: chmod 600 %s)", config.Path(vaultDir), config.Path(vaultDir))
	}
	return err
}
