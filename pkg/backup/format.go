package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/animectl/pkg/crypto"
)

// Magic number for backup files: "ANIM_BKP"
var MagicNumber = [8]byte{'A', 'N', 'I', 'M', '_', 'B', 'K', 'P'}

// Current backup format version.
const FormatVersion = 1

// maxHeaderSize bounds the header JSON.
const maxHeaderSize = 1024 * 1024

// EncryptionMode specifies how the backup is encrypted.
type EncryptionMode string

const (
	// EncryptionModePassword derives keys from a backup password.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a separate key file.
	EncryptionModeKey EncryptionMode = "key"
)

// Header contains backup file metadata. It is stored in plaintext and
// covered by the outer HMAC.
type Header struct {
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	VaultID        string            `json:"vault_id"`
	VaultVersion   int               `json:"vault_version"`
	EncryptionMode EncryptionMode    `json:"encryption_mode"`
	KDF            *crypto.KDFParams `json:"kdf,omitempty"` // nil if EncryptionModeKey
	IncludesAudit  bool              `json:"includes_audit"`
	ChecksumAlgo   string            `json:"checksum_algorithm"`
}

// Payload contains the encrypted backup data. The container is still
// encrypted under the vault DEK.
type Payload struct {
	Container []byte            `json:"container"`
	Audit     map[string][]byte `json:"audit,omitempty"` // file name -> contents
}

// WriteHeader writes the magic number and header to the writer.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header from the reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, ErrTruncated
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}
