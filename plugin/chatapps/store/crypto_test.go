package store

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"bot token", "123456789:AAF-abcdefghijklmnopqrstuvwxyz123456"},
		{"unicode", "пароль-ключ-秘密"},
		{"empty token", ""},
		{"long token", string(make([]byte, 2048))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := EncryptToken(tt.token, "master-passphrase")
			require.NoError(t, err)
			assert.NotEqual(t, tt.token, sealed)

			got, err := DecryptToken(sealed, "master-passphrase")
			require.NoError(t, err)
			assert.Equal(t, tt.token, got)
		})
	}
}

func TestEncryptProducesFreshCiphertext(t *testing.T) {
	first, err := EncryptToken("123:abc", "master")
	require.NoError(t, err)
	second, err := EncryptToken("123:abc", "master")
	require.NoError(t, err)

	// Fresh salt and nonce per call: equal inputs never encrypt alike.
	assert.NotEqual(t, first, second)

	for _, sealed := range []string{first, second} {
		got, err := DecryptToken(sealed, "master")
		require.NoError(t, err)
		assert.Equal(t, "123:abc", got)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := EncryptToken("123:abc", "right")
	require.NoError(t, err)

	_, err = DecryptToken(sealed, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	sealed, err := EncryptToken("123:abc", "master")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = DecryptToken(tampered, "master")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	for _, encoded := range []string{
		"!!!not base64!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(make([]byte, 20)),
	} {
		_, err := DecryptToken(encoded, "master")
		assert.ErrorIs(t, err, ErrInvalidCiphertext, "input %q", encoded)
	}
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := EncryptToken("123:abc", "")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = DecryptToken("anything", "")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}
