package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := ParseKey(base64.StdEncoding.EncodeToString(make([]byte, KeyLen)))
	require.NoError(t, err)
	return key
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, KeyLen)
	for i := range raw {
		raw[i] = byte(i)
	}

	for _, s := range []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
	} {
		key, err := ParseKey(s)
		require.NoError(t, err, "input %q", s)
		assert.Equal(t, raw, key)
	}

	_, err := ParseKey("dG9vc2hvcnQ")
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = ParseKey("!!! not base64 !!!")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)

	sealed, err := Seal(key, "AQBe4...refresh-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "refresh-token")

	plain, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "AQBe4...refresh-token", plain)
}

func TestSealIsNonDeterministic(t *testing.T) {
	key := testKey(t)

	a, err := Seal(key, "same plaintext")
	require.NoError(t, err)
	b, err := Seal(key, "same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce must vary the ciphertext")
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	other := make([]byte, KeyLen)
	other[0] = 0xFF

	sealed, err := Seal(key, "secret")
	require.NoError(t, err)

	_, err = Open(other, sealed)
	assert.Error(t, err)
}

func TestOpenRejectsTruncated(t *testing.T) {
	key := testKey(t)
	_, err := Open(key, "c2hvcnQ")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
