// Package crypto derives the per-user master key and seals secrets with it.
// The master key exists only inside an authenticated session; the stored
// elabFTW API key is therefore unreadable without the user's password.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// MasterKeySize is the AES-256 key length produced by DeriveKey.
const MasterKeySize = 32

// DeriveKey stretches a login password into a master key.
// Argon2id parameters: 1 pass, 64MB memory, 4 threads.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, MasterKeySize)
}

// NewSalt returns a fresh random salt, base64-encoded for storage.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Encrypt seals plaintext with AES-GCM under key and returns
// base64(nonce||ciphertext).
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != MasterKeySize {
		return "", fmt.Errorf("crypto: key must be %d bytes, got %d", MasterKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails when the key is wrong or the
// ciphertext was tampered with.
func Decrypt(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
