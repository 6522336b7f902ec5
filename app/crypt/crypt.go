// Package crypt provides the symmetric envelope for paste content and
// attachments. Key material is derived from the user passphrase (sha256),
// sealing is NaCl secretbox (XSalsa20-Poly1305) with a random nonce
// prepended, so a wrong passphrase or tampered ciphertext fails
// authentication instead of producing garbage.
package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt returned on authentication failure, i.e. wrong passphrase
// or corrupted ciphertext
var ErrDecrypt = errors.New("failed to decrypt")

// EncFileName is the on-disk name of an encrypted attachment. The original
// file name survives only in the paste metadata.
const EncFileName = "data.enc"

const nonceSize = 24

// Crypt implements the envelope. Stateless, key is derived per call.
type Crypt struct{}

// Encrypt seals text under the passphrase and returns base64.
// Empty input is an identity, the cipher is not invoked.
func (c Crypt) Encrypt(text, passphrase string) (string, error) {
	if text == "" {
		return "", nil
	}
	sealed, err := c.EncryptBytes([]byte(text), passphrase)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt.
// Empty input is an identity.
func (c Crypt) Decrypt(encoded, passphrase string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := c.DecryptBytes(sealed, passphrase)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncryptBytes seals a raw byte buffer, nonce prepended
func (c Crypt) EncryptBytes(data []byte, passphrase string) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	key := makeKey(passphrase)
	nonce := new([nonceSize]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("could not read from random: %w", err)
	}
	out := make([]byte, nonceSize)
	copy(out, nonce[:])
	return secretbox.Seal(out, data, nonce, key), nil
}

// DecryptBytes opens a buffer produced by EncryptBytes
func (c Crypt) DecryptBytes(data []byte, passphrase string) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	if len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	key := makeKey(passphrase)
	nonce := new([nonceSize]byte)
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// EncryptFile seals the file at path into a data.enc sidecar in the same
// directory. The original is removed only after the ciphertext is fully
// written, a failed encryption leaves the plaintext file in place.
func (c Crypt) EncryptFile(path, passphrase string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path built from sanitized paste metadata
	if err != nil {
		return fmt.Errorf("read file for encryption: %w", err)
	}
	sealed, err := c.EncryptBytes(data, passphrase)
	if err != nil {
		return fmt.Errorf("encrypt file %s: %w", path, err)
	}
	encPath := filepath.Join(filepath.Dir(path), EncFileName)
	if err := os.WriteFile(encPath, sealed, 0o600); err != nil {
		return fmt.Errorf("write encrypted file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove plaintext original: %w", err)
	}
	return nil
}

// DecryptFile reads a data.enc sidecar and returns the plaintext bytes.
// Nothing is written back, the stored file stays encrypted.
func (c Crypt) DecryptFile(encPath, passphrase string) ([]byte, error) {
	sealed, err := os.ReadFile(encPath) //nolint:gosec // path built from sanitized paste metadata
	if err != nil {
		return nil, fmt.Errorf("read encrypted file: %w", err)
	}
	plain, err := c.DecryptBytes(sealed, passphrase)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// makeKey derives the fixed-size secretbox key from a free-form passphrase
func makeKey(passphrase string) *[32]byte {
	sum := sha256.Sum256([]byte(passphrase))
	key := new([32]byte)
	copy(key[:], sum[:])
	return key
}
