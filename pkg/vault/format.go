package vault

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/envelope"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// Container layout:
//
//	magic "ANIM_VLT" | u32 header length | header JSON | u32 body length | body
//
// The body is nonce || ciphertext || tag under the DEK. Lengths are big endian.
const (
	Magic         = "ANIM_VLT"
	FormatVersion = 1

	MaxHeaderSize = 1 << 20  // 1 MB
	MaxBodySize   = 64 << 20 // 64 MB
)

// bodyVersion is the schema version of the decrypted record set.
const bodyVersion = 1

// Header is the plaintext part of the container. Only the wrapped keys
// change after setup; the other fields are bound into the body AAD.
type Header struct {
	Version   int                   `json:"version"`
	VaultID   string                `json:"vault_id"`
	CreatedAt time.Time             `json:"created_at"`
	Cipher    string                `json:"cipher"`
	Keys      []envelope.WrappedKey `json:"keys"`
}

// Container is a decoded vault file.
type Container struct {
	Header Header
	Body   []byte
}

// body is the decrypted record set.
type body struct {
	V         int                  `json:"v"`
	NextID    int                  `json:"next_id"`
	Entries   []watchlist.Entry    `json:"entries"`
	Adult     *envelope.Credential `json:"adult,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// EncodeContainer serializes c.
func EncodeContainer(c *Container) ([]byte, error) {
	header, err := json.Marshal(c.Header)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to marshal header: %w", err)
	}
	if len(header) > MaxHeaderSize {
		return nil, fmt.Errorf("vault: header too large (%d bytes)", len(header))
	}
	if len(c.Body) > MaxBodySize {
		return nil, fmt.Errorf("vault: body too large (%d bytes)", len(c.Body))
	}

	var buf bytes.Buffer
	buf.Grow(len(Magic) + 8 + len(header) + len(c.Body))
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(header)))
	buf.Write(header)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(c.Body)))
	buf.Write(c.Body)
	return buf.Bytes(), nil
}

// DecodeContainer parses a vault file. Every structural problem is
// reported as ErrCorruptData.
func DecodeContainer(data []byte) (*Container, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return nil, fmt.Errorf("%w: invalid magic number", ErrCorruptData)
	}

	header, err := readChunk(r, MaxHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptData, err)
	}
	var h Header
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptData, err)
	}

	sealed, err := readChunk(r, MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrCorruptData, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptData, r.Len())
	}

	if err := validateHeader(&h); err != nil {
		return nil, err
	}
	return &Container{Header: h, Body: sealed}, nil
}

// ReadHeader decodes only what is needed to describe a vault file.
func ReadHeader(data []byte) (*Header, error) {
	c, err := DecodeContainer(data)
	if err != nil {
		return nil, err
	}
	return &c.Header, nil
}

func readChunk(r *bytes.Reader, limit int) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("missing length")
	}
	if int64(n) > int64(limit) {
		return nil, fmt.Errorf("length %d exceeds limit", n)
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("truncated: need %d bytes, have %d", n, r.Len())
	}
	chunk := make([]byte, n)
	_, _ = io.ReadFull(r, chunk)
	return chunk, nil
}

func validateHeader(h *Header) error {
	if h.Version < 1 || h.Version > FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorruptData, h.Version)
	}
	if h.VaultID == "" {
		return fmt.Errorf("%w: missing vault id", ErrCorruptData)
	}
	if _, err := crypto.LookupCipher(h.Cipher); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if envelope.Find(h.Keys, envelope.MethodPassword) == nil {
		return fmt.Errorf("%w: no password key", ErrCorruptData)
	}
	return nil
}

// bodyAAD binds the body to the immutable header fields. Wrapped keys are
// excluded so rekeying leaves the body ciphertext valid.
func bodyAAD(h *Header) []byte {
	return []byte(fmt.Sprintf("animectl/v%d|%s|%s", h.Version, h.VaultID, h.Cipher))
}

// keyAAD binds a wrapped DEK to its vault and unlock method.
func keyAAD(vaultID string, method envelope.Method) []byte {
	return []byte(fmt.Sprintf("animectl-dek/v1|%s|%s", vaultID, method))
}

// sealBody encrypts b with a fresh nonce and returns nonce || ciphertext.
func sealBody(h *Header, dek []byte, b *body, r io.Reader) ([]byte, error) {
	c, err := crypto.LookupCipher(h.Cipher)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to marshal records: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	ciphertext, nonce, err := crypto.Seal(c, dek, plaintext, bodyAAD(h), r)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt records: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

// openBody authenticates and decrypts the body. The DEK is already known to
// be correct, so any failure here is corruption.
func openBody(h *Header, dek, sealed []byte) (*body, error) {
	c, err := crypto.LookupCipher(h.Cipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if len(sealed) < c.NonceSize() {
		return nil, fmt.Errorf("%w: body too short", ErrCorruptData)
	}
	nonce, ciphertext := sealed[:c.NonceSize()], sealed[c.NonceSize():]

	plaintext, err := c.Open(dek, nonce, ciphertext, bodyAAD(h))
	if err != nil {
		return nil, fmt.Errorf("%w: body authentication failed", ErrCorruptData)
	}
	defer crypto.SecureWipe(plaintext)

	var b body
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("%w: records: %v", ErrCorruptData, err)
	}
	if b.V < 1 || b.V > bodyVersion {
		return nil, fmt.Errorf("%w: unsupported records version %d", ErrCorruptData, b.V)
	}
	if b.NextID < 1 {
		b.NextID = 1
	}
	for _, e := range b.Entries {
		if e.ID >= b.NextID {
			b.NextID = e.ID + 1
		}
	}
	return &b, nil
}
