package envelope

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/animectl/pkg/crypto"
)

func cheapParams(t *testing.T) crypto.KDFParams {
	t.Helper()
	p, err := crypto.NewKDFParams(crypto.KDFArgon2id, rand.Reader)
	require.NoError(t, err)
	return p.WithCost(64, 1, 1)
}

func newDEK(t *testing.T) []byte {
	t.Helper()
	dek, err := crypto.RandomBytes(rand.Reader, crypto.KeyLength)
	require.NoError(t, err)
	return dek
}

func TestWrapUnwrapWithSecret(t *testing.T) {
	for _, cipherID := range crypto.CipherIDs() {
		t.Run(cipherID, func(t *testing.T) {
			dek := newDEK(t)
			params := cheapParams(t)
			aad := []byte("vault-1|password")

			wk, err := WrapWithSecret(MethodPassword, []byte("alpha123"), dek, params, cipherID, aad, rand.Reader)
			require.NoError(t, err)
			assert.Equal(t, MethodPassword, wk.Method)
			assert.Equal(t, cipherID, wk.Cipher)
			assert.NotContains(t, string(wk.Ciphertext), string(dek))

			got, err := UnwrapWithSecret(wk, []byte("alpha123"), aad)
			require.NoError(t, err)
			assert.Equal(t, dek, got)
		})
	}
}

func TestUnwrapFailsClosed(t *testing.T) {
	dek := newDEK(t)
	aad := []byte("vault-1|password")
	wk, err := WrapWithSecret(MethodPassword, []byte("alpha123"), dek, cheapParams(t), crypto.DefaultCipher, aad, rand.Reader)
	require.NoError(t, err)

	tampered := *wk
	tampered.Ciphertext = append([]byte(nil), wk.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xff

	badCipher := *wk
	badCipher.Cipher = "rot13"

	badKDF := *wk
	badKDF.KDF.Algorithm = "none"

	tests := []struct {
		name   string
		wk     *WrappedKey
		secret string
		aad    []byte
	}{
		{"wrong password", wk, "alpha124", aad},
		{"wrong aad", wk, "alpha123", []byte("vault-2|password")},
		{"tampered ciphertext", &tampered, "alpha123", aad},
		{"unknown cipher", &badCipher, "alpha123", aad},
		{"unknown kdf", &badKDF, "alpha123", aad},
		{"nil key", nil, "alpha123", aad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnwrapWithSecret(tt.wk, []byte(tt.secret), tt.aad)
			assert.ErrorIs(t, err, ErrAuthFailure)
			assert.Nil(t, got)
		})
	}
}

func TestWrapRejectsBadInput(t *testing.T) {
	kek := newDEK(t)
	params := cheapParams(t)

	_, err := Wrap(MethodPassword, []byte("short"), kek, params, crypto.DefaultCipher, nil, rand.Reader)
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)

	_, err = Wrap(MethodPassword, newDEK(t), kek, params, "rot13", nil, rand.Reader)
	assert.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)
}

func TestRecoveryKeyWithHKDF(t *testing.T) {
	dek := newDEK(t)
	secret := newDEK(t)
	params, err := crypto.NewKDFParams(crypto.KDFHKDFSHA256, rand.Reader)
	require.NoError(t, err)

	wk, err := WrapWithSecret(MethodRecovery, secret, dek, params, crypto.CipherXChaCha20Poly1305, nil, rand.Reader)
	require.NoError(t, err)

	got, err := UnwrapWithSecret(wk, secret, nil)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestFindAndReplace(t *testing.T) {
	keys := []WrappedKey{
		{Method: MethodPassword, Nonce: []byte{1}},
		{Method: MethodRecovery, Nonce: []byte{2}},
	}

	require.NotNil(t, Find(keys, MethodRecovery))
	assert.Equal(t, []byte{2}, Find(keys, MethodRecovery).Nonce)
	assert.Nil(t, Find(keys[:1], MethodRecovery))

	replaced := Replace(keys, WrappedKey{Method: MethodPassword, Nonce: []byte{9}})
	require.Len(t, replaced, 2)
	assert.Equal(t, []byte{9}, replaced[0].Nonce)
	assert.Equal(t, []byte{2}, replaced[1].Nonce)
	assert.Equal(t, []byte{1}, keys[0].Nonce, "input slice must not be modified")

	appended := Replace(keys[:1], WrappedKey{Method: MethodRecovery})
	assert.Len(t, appended, 2)
}

func TestCredential(t *testing.T) {
	cred, err := NewCredential([]byte("secret2"), cheapParams(t))
	require.NoError(t, err)
	assert.Len(t, cred.Verifier, 32)

	ok, err := cred.Verify([]byte("secret2"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cred.Verify([]byte("secret3"))
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := NewCredential([]byte("secret2"), cheapParams(t))
	require.NoError(t, err)
	assert.NotEqual(t, cred.Verifier, other.Verifier, "fresh salt must change the verifier")

	var missing *Credential
	_, err = missing.Verify([]byte("secret2"))
	assert.ErrorIs(t, err, ErrAuthFailure)
}
