package vault

import (
	"encoding/base32"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/forest6511/animectl/pkg/crypto"
)

// RecoverySecretLength is the size of the raw recovery secret in bytes.
const RecoverySecretLength = 32

// recoveryGroup is the number of characters between hyphens.
const recoveryGroup = 4

// UnrecoverableLossNotice is shown when both the master password and the
// recovery secret are unavailable. Nothing can decrypt the vault then.
const UnrecoverableLossNotice = "If you lose both your master password and your recovery secret, " +
	"your watchlist cannot be recovered. There is no reset and no backdoor."

var recoveryEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// RecoverySecret is the display form of a recovery secret: unpadded base32
// in hyphen-separated groups of four.
type RecoverySecret string

func (r RecoverySecret) String() string {
	return string(r)
}

func newRecoverySecret(r io.Reader) ([]byte, error) {
	raw, err := crypto.RandomBytes(r, RecoverySecretLength)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to generate recovery secret: %w", err)
	}
	return raw, nil
}

func formatRecoverySecret(raw []byte) RecoverySecret {
	enc := recoveryEncoding.EncodeToString(raw)
	var b strings.Builder
	for i, c := range enc {
		if i > 0 && i%recoveryGroup == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(c)
	}
	return RecoverySecret(b.String())
}

// ParseRecoverySecret decodes a recovery secret as typed by a user. Case,
// hyphens, whitespace and surrounding quotes are ignored. Malformed input is ErrAuthFailure so
// callers cannot tell a typo from a wrong secret.
func ParseRecoverySecret(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '-' || r == '\'' || r == '"' || r == '`' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)

	raw, err := recoveryEncoding.DecodeString(cleaned)
	if err != nil || len(raw) != RecoverySecretLength {
		crypto.SecureWipe(raw)
		return nil, ErrAuthFailure
	}
	return raw, nil
}
