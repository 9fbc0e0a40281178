package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	key := DeriveKey("correct horse battery staple", salt)
	if len(key) != MasterKeySize {
		t.Fatalf("DeriveKey returned %d bytes, want %d", len(key), MasterKeySize)
	}

	again := DeriveKey("correct horse battery staple", salt)
	if string(key) != string(again) {
		t.Error("DeriveKey is not deterministic for the same password and salt")
	}

	other := DeriveKey("correct horse battery staple", []byte("fedcba9876543210"))
	if string(key) == string(other) {
		t.Error("DeriveKey ignored the salt")
	}
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(a); err != nil {
		t.Errorf("NewSalt returned invalid base64: %v", err)
	}

	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if a == b {
		t.Error("two salts are identical")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := DeriveKey("password123", []byte("somesaltsomesalt"))
	secret := "elab-api-key-abcdef0123456789"

	sealed, err := Encrypt(secret, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(sealed, secret) {
		t.Error("ciphertext contains the plaintext")
	}

	got, err := Decrypt(sealed, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != secret {
		t.Errorf("roundtrip got %q, want %q", got, secret)
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	key := DeriveKey("password123", []byte("somesaltsomesalt"))

	a, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := DeriveKey("password123", []byte("somesaltsomesalt"))
	sealed, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	wrong := DeriveKey("password124", []byte("somesaltsomesalt"))
	if _, err := Decrypt(sealed, wrong); err == nil {
		t.Error("Decrypt succeeded with the wrong key")
	}
}

func TestDecryptTampered(t *testing.T) {
	key := DeriveKey("password123", []byte("somesaltsomesalt"))
	sealed, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := Decrypt(tampered, key); err == nil {
		t.Error("Decrypt accepted tampered ciphertext")
	}
}

func TestEncryptBadKeySize(t *testing.T) {
	if _, err := Encrypt("secret", []byte("short")); err == nil {
		t.Error("Encrypt accepted a short key")
	}
}

func TestDecryptBadBase64(t *testing.T) {
	key := DeriveKey("password123", []byte("somesaltsomesalt"))
	if _, err := Decrypt("not base64 !!!", key); err == nil {
		t.Error("Decrypt accepted invalid base64")
	}
}
