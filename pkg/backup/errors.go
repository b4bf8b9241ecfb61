// Package backup provides vault backup and restore functionality.
package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the backup file has an invalid magic number.
	ErrInvalidMagic = errors.New("backup: invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("backup: unsupported backup format version")

	// ErrTruncated indicates the file ends before the declared lengths.
	ErrTruncated = errors.New("backup: backup file truncated")

	// ErrIntegrityFailed indicates the HMAC verification failed.
	ErrIntegrityFailed = errors.New("backup: integrity check failed: HMAC mismatch")

	// ErrDecryptionFailed indicates decryption failed due to invalid password or corruption.
	ErrDecryptionFailed = errors.New("backup: decryption failed: invalid password or corrupted data")

	// ErrConflict indicates a vault already exists at the restore target.
	ErrConflict = errors.New("backup: restore conflict: vault already exists")

	// ErrInvalidKeyFile indicates the key file is invalid or wrong size.
	ErrInvalidKeyFile = errors.New("backup: invalid key file: must be exactly 32 bytes")

	// ErrEmptyPassword indicates an empty password was provided.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")

	// ErrNoKey indicates neither a password nor a key file was given.
	ErrNoKey = errors.New("backup: password or key file is required")
)
