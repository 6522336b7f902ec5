package crypt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrypt_RoundTrip(t *testing.T) {
	c := Crypt{}

	tbl := []struct {
		text       string
		passphrase string
	}{
		{"hello world", "secret"},
		{"multi\nline\ncontent", "another passphrase with spaces"},
		{"юникод 漢字", "k"},
		{"x", string(make([]byte, 100))},
	}

	for _, tt := range tbl {
		encrypted, err := c.Encrypt(tt.text, tt.passphrase)
		require.NoError(t, err)
		assert.NotEqual(t, tt.text, encrypted)

		decrypted, err := c.Decrypt(encrypted, tt.passphrase)
		require.NoError(t, err)
		assert.Equal(t, tt.text, decrypted)
	}
}

func TestCrypt_WrongPassphrase(t *testing.T) {
	c := Crypt{}

	encrypted, err := c.Encrypt("top secret content", "right")
	require.NoError(t, err)

	_, err = c.Decrypt(encrypted, "wrong")
	assert.ErrorIs(t, err, ErrDecrypt, "wrong passphrase must fail, not return garbage")
}

func TestCrypt_CorruptedCiphertext(t *testing.T) {
	c := Crypt{}

	encrypted, err := c.Encrypt("some content", "key")
	require.NoError(t, err)

	// flip a character inside the base64 payload
	corrupted := []byte(encrypted)
	if corrupted[len(corrupted)/2] == 'A' {
		corrupted[len(corrupted)/2] = 'B'
	} else {
		corrupted[len(corrupted)/2] = 'A'
	}
	_, err = c.Decrypt(string(corrupted), "key")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("not-base64!!!", "key")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.DecryptBytes([]byte("short"), "key")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCrypt_EmptyInputIdentity(t *testing.T) {
	c := Crypt{}

	for _, passphrase := range []string{"", "k", "long passphrase"} {
		encrypted, err := c.Encrypt("", passphrase)
		require.NoError(t, err)
		assert.Equal(t, "", encrypted)

		decrypted, err := c.Decrypt("", passphrase)
		require.NoError(t, err)
		assert.Equal(t, "", decrypted)
	}
}

func TestCrypt_EncryptBytesUniqueNonce(t *testing.T) {
	c := Crypt{}

	first, err := c.EncryptBytes([]byte("same data"), "key")
	require.NoError(t, err)
	second, err := c.EncryptBytes([]byte("same data"), "key")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "same plaintext must not produce same ciphertext")
}

func TestCrypt_FileRoundTrip(t *testing.T) {
	c := Crypt{}
	dir := t.TempDir()

	path := filepath.Join(dir, "report.pdf")
	content := []byte("binary\x00content\xffhere")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	require.NoError(t, c.EncryptFile(path, "passphrase"))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "plaintext original must be removed")

	encPath := filepath.Join(dir, EncFileName)
	sealed, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "content")

	plain, err := c.DecryptFile(encPath, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, content, plain)

	// stored file stays encrypted after a successful read
	after, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.Equal(t, sealed, after)

	_, err = c.DecryptFile(encPath, "wrong")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCrypt_EncryptFileMissing(t *testing.T) {
	c := Crypt{}
	err := c.EncryptFile(filepath.Join(t.TempDir(), "nope.txt"), "key")
	assert.Error(t, err)
}
