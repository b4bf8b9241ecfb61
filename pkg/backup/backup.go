// Package backup provides vault backup and restore functionality.
//
// Features:
//   - Encrypted backup with AES-256-GCM
//   - Argon2id key derivation with separate backup salt, or a key file
//   - HMAC-SHA256 integrity verification
//   - Restore through the vault store after validating the container
//   - Optional audit log inclusion
//
// Layout:
//
//	"ANIM_BKP" | u32 header length | header JSON | u32 ciphertext length | ciphertext | HMAC
//
// The payload holds the raw vault container, which stays encrypted under
// the vault DEK, so a backup never contains plaintext records.
package backup

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/store"
	"github.com/forest6511/animectl/pkg/vault"
)

// ConflictMode specifies how to handle an existing vault during restore.
type ConflictMode int

const (
	// ConflictError returns ErrConflict if a vault already exists.
	ConflictError ConflictMode = iota
	// ConflictOverwrite replaces the existing vault.
	ConflictOverwrite
)

// ParseConflictMode parses "error" or "overwrite".
func ParseConflictMode(s string) (ConflictMode, error) {
	switch s {
	case "", "error":
		return ConflictError, nil
	case "overwrite":
		return ConflictOverwrite, nil
	}
	return ConflictError, fmt.Errorf("backup: unknown conflict mode %q (use error or overwrite)", s)
}

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// Output is the destination writer for the backup.
	Output io.Writer
	// IncludeAudit includes audit logs in the backup.
	IncludeAudit bool
	// Password for encryption.
	Password []byte
	// KeyFile path for encryption key (overrides Password).
	KeyFile string
	// Argon2id cost overrides; zero keeps the default.
	KDFMemory  uint32
	KDFTime    uint32
	KDFThreads uint8
	// Random is the randomness source (default crypto/rand).
	Random io.Reader
	// Now is the time source (default time.Now).
	Now func() time.Time
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// OnConflict specifies how to handle an existing vault.
	OnConflict ConflictMode
	// DryRun previews restore without making changes.
	DryRun bool
	// VerifyOnly only verifies backup integrity.
	VerifyOnly bool
	// WithAudit restores audit logs (overwrites files with the same name).
	WithAudit bool
	// Password for decryption.
	Password []byte
	// KeyFile path for decryption key (overrides Password).
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// VaultID identifies the restored vault.
	VaultID string
	// Overwrote indicates an existing vault was (or would be) replaced.
	Overwrote bool
	// AuditFilesRestored is the number of audit files written.
	AuditFilesRestored int
	// DryRun indicates this was a dry run.
	DryRun bool
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the backup passed all integrity checks.
	Valid bool
	// Version is the backup format version.
	Version int
	// CreatedAt is when the backup was created.
	CreatedAt time.Time
	// VaultID identifies the backed up vault.
	VaultID string
	// IncludesAudit indicates if audit logs are included.
	IncludesAudit bool
	// AuditFiles is the number of audit files in the payload.
	AuditFiles int
	// Error is set if verification failed.
	Error string
}

// Backup writes an encrypted backup of the vault container. The vault does
// not need to be unlocked; when it is, a backup.create audit event is written.
func Backup(v *vault.Vault, opts BackupOptions) (*Header, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("backup: output writer is required")
	}
	r := opts.Random
	if r == nil {
		r = rand.Reader
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var (
		encKey, macKey []byte
		kdf            *crypto.KDFParams
		mode           EncryptionMode
		err            error
	)
	if opts.KeyFile != "" {
		key, err := ReadKeyFile(opts.KeyFile)
		if err != nil {
			return nil, err
		}
		encKey, macKey, err = splitKeys(key)
		crypto.SecureWipe(key)
		if err != nil {
			return nil, err
		}
		mode = EncryptionModeKey
	} else {
		if opts.Password == nil {
			return nil, ErrNoKey
		}
		params, err := crypto.NewKDFParams(crypto.KDFArgon2id, r)
		if err != nil {
			return nil, err
		}
		params = params.WithCost(opts.KDFMemory, opts.KDFTime, opts.KDFThreads)
		encKey, macKey, err = DeriveBackupKeys(opts.Password, params)
		if err != nil {
			return nil, err
		}
		kdf = &params
		mode = EncryptionModePassword
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	raw, err := v.RawContainer()
	if err != nil {
		return nil, err
	}
	vh, err := vault.ReadHeader(raw)
	if err != nil {
		return nil, err
	}

	payload := &Payload{Container: raw}
	if opts.IncludeAudit && v.Audit() != nil {
		payload.Audit, err = collectAudit(v.Audit())
		if err != nil {
			return nil, err
		}
	}

	payloadBytes, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(payloadBytes)

	ciphertext, err := EncryptPayload(payloadBytes, encKey, payloadAAD(vh.VaultID), r)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      now().UTC(),
		VaultID:        vh.VaultID,
		VaultVersion:   vh.Version,
		EncryptionMode: mode,
		KDF:            kdf,
		IncludesAudit:  len(payload.Audit) > 0,
		ChecksumAlgo:   "hmac-sha256",
	}

	// Write to buffer first (for HMAC calculation)
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return nil, fmt.Errorf("backup: failed to write ciphertext length: %w", err)
	}
	buf.Write(ciphertext)

	mac := ComputeHMAC(buf.Bytes(), macKey)
	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("backup: failed to write backup: %w", err)
	}
	if _, err := opts.Output.Write(mac); err != nil {
		return nil, fmt.Errorf("backup: failed to write HMAC: %w", err)
	}

	if l := v.Audit(); l != nil && l.HasKey() {
		_ = l.Log(audit.OpBackupCreate, audit.SourceCLI, audit.ResultSuccess, "", nil, map[string]string{
			"mode":        string(mode),
			"audit_files": strconv.Itoa(len(payload.Audit)),
		})
	}
	return header, nil
}

// Restore restores a vault container from an encrypted backup into target.
// The container is validated before anything is written.
func Restore(backupPath string, target *vault.Vault, opts RestoreOptions) (*RestoreResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup file: %w", err)
	}

	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	if opts.VerifyOnly {
		return &RestoreResult{VaultID: header.VaultID, DryRun: true}, nil
	}

	exists, err := target.Exists()
	if err != nil {
		return nil, err
	}
	if exists && opts.OnConflict == ConflictError {
		return nil, ErrConflict
	}

	result := &RestoreResult{VaultID: header.VaultID, Overwrote: exists}
	if opts.DryRun {
		result.DryRun = true
		if opts.WithAudit {
			result.AuditFilesRestored = len(payload.Audit)
		}
		return result, nil
	}

	if _, err := target.RestoreContainer(payload.Container, opts.OnConflict == ConflictOverwrite); err != nil {
		if errors.Is(err, vault.ErrAlreadyInitialized) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if opts.WithAudit && len(payload.Audit) > 0 && target.Audit() != nil {
		n, err := restoreAudit(target.Audit().Path(), payload.Audit)
		result.AuditFilesRestored = n
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// Verify checks backup integrity without restoring.
func Verify(backupPath string, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, payload, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		VaultID:       header.VaultID,
		IncludesAudit: header.IncludesAudit,
		AuditFiles:    len(payload.Audit),
	}, nil
}

// verifyAndDecrypt verifies the backup integrity and decrypts the payload.
// The vault container inside is structurally validated as well.
func verifyAndDecrypt(data []byte, password []byte, keyFile string) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, ErrTruncated
	}
	if int64(reader.Len()) != int64(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	macStart := headerEnd + 4 + int(ciphertextLen)
	ciphertext := data[headerEnd+4 : macStart]
	storedHMAC := data[macStart:]

	var encKey, macKey []byte
	switch {
	case keyFile != "":
		key, err := ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, err
		}
		encKey, macKey, err = splitKeys(key)
		crypto.SecureWipe(key)
		if err != nil {
			return nil, nil, err
		}
	case header.EncryptionMode == EncryptionModePassword && header.KDF != nil:
		if password == nil {
			return nil, nil, ErrEmptyPassword
		}
		encKey, macKey, err = DeriveBackupKeys(password, *header.KDF)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, ErrNoKey
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	// The HMAC covers header, ciphertext length and ciphertext.
	if !VerifyHMAC(data[:macStart], storedHMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := DecryptPayload(ciphertext, encKey, payloadAAD(header.VaultID))
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}

	vh, err := vault.ReadHeader(payload.Container)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: %w", err)
	}
	if vh.VaultID != header.VaultID {
		return nil, nil, fmt.Errorf("%w: vault id mismatch", ErrIntegrityFailed)
	}
	return header, payload, nil
}

func payloadAAD(vaultID string) []byte {
	return []byte("animectl-backup/v1|" + vaultID)
}

// collectAudit reads the audit log files keyed by base name.
func collectAudit(l *audit.Logger) (map[string][]byte, error) {
	files, err := l.Files()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to list audit files: %w", err)
	}
	out := make(map[string][]byte, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("backup: failed to read audit file: %w", err)
		}
		out[filepath.Base(path)] = data
	}
	return out, nil
}

// restoreAudit writes audit files into dir. Names are validated by the
// store, so a crafted backup cannot write outside dir.
func restoreAudit(dir string, files map[string][]byte) (int, error) {
	fs, err := store.NewFileStore(dir)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if err := fs.AtomicWriteAll(name, files[name]); err != nil {
			return i, fmt.Errorf("backup: failed to restore audit file %s: %w", name, err)
		}
	}
	return len(names), nil
}
