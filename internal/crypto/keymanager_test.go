package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealUnsealRoundTrip(t *testing.T) {
	sealed, err := SealKey(testKeyHex, "correct horse battery staple")
	require.NoError(t, err)

	// The key material must never appear in the sealed blob.
	assert.NotContains(t, string(sealed), testKeyHex)

	plain, err := UnsealKey(sealed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, plain)
}

func TestSealKey_AcceptsHexPrefix(t *testing.T) {
	sealed, err := SealKey("0x"+testKeyHex, "pw")
	require.NoError(t, err)

	plain, err := UnsealKey(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, plain)
}

func TestSealKey_Validation(t *testing.T) {
	_, err := SealKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = SealKey("not-hex", "pw")
	assert.Error(t, err)

	_, err = SealKey("abcd", "pw") // too short
	assert.Error(t, err)
}

func TestUnsealKey_WrongPassword(t *testing.T) {
	sealed, err := SealKey(testKeyHex, "right")
	require.NoError(t, err)

	_, err = UnsealKey(sealed, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestUnsealKey_UnsupportedVersion(t *testing.T) {
	sealed, err := SealKey(testKeyHex, "pw")
	require.NoError(t, err)

	tampered := strings.Replace(string(sealed), `"version": 1`, `"version": 99`, 1)
	_, err = UnsealKey([]byte(tampered), "pw")
	assert.Error(t, err)
}

func TestLoadSigningKey_RawKeyWins(t *testing.T) {
	key, err := LoadSigningKey(KeyConfig{RawKey: "0x" + testKeyHex, SealedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestLoadSigningKey_FromSealedFile(t *testing.T) {
	sealed, err := SealKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.sealed.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	key, err := LoadSigningKey(KeyConfig{SealedKeyPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestLoadSigningKey_NoSource(t *testing.T) {
	_, err := LoadSigningKey(KeyConfig{})
	assert.Error(t, err)
}
