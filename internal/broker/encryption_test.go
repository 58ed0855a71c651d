package broker

import (
	"bytes"
	"testing"
)

const testSecret = "this-is-a-valid-32-character-key"

func TestNewEncryptor_ShortSecret(t *testing.T) {
	if _, err := NewEncryptor("short"); err != ErrInvalidKey {
		t.Errorf("NewEncryptor() error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testSecret)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	testCases := []struct {
		name      string
		plaintext []byte
		scope     string
	}{
		{"token secret", bytes.Repeat([]byte{0xab}, 20), "TESTCONS"},
		{"ascii", []byte("P@ssw0rd!#$%^&*()"), "ACMECONS"},
		{"empty scope", []byte("value"), ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := enc.Encrypt(tc.plaintext, tc.scope)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(nonce) != NonceSize {
				t.Errorf("nonce length = %d, want %d", len(nonce), NonceSize)
			}
			if bytes.Contains(ciphertext, tc.plaintext) {
				t.Error("ciphertext should not contain plaintext")
			}

			decrypted, err := enc.Decrypt(ciphertext, nonce, tc.scope)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("Decrypt() = %x, want %x", decrypted, tc.plaintext)
			}
		})
	}
}

func TestEncryptor_ScopeIsBound(t *testing.T) {
	enc, _ := NewEncryptor(testSecret)

	ciphertext, nonce, err := enc.Encrypt([]byte("secret"), "TESTCONS")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := enc.Decrypt(ciphertext, nonce, "OTHERCONS"); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong scope error = %v, want %v", err, ErrDecryptionFailed)
	}

	other, _ := NewEncryptor("another-valid-32-character-secret")
	if _, err := other.Decrypt(ciphertext, nonce, "TESTCONS"); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong master secret error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestEncryptor_FreshNonces(t *testing.T) {
	enc, _ := NewEncryptor(testSecret)

	c1, n1, _ := enc.Encrypt([]byte("same"), "TESTCONS")
	c2, n2, _ := enc.Encrypt([]byte("same"), "TESTCONS")
	if bytes.Equal(n1, n2) {
		t.Error("nonces should be different for each encryption")
	}
	if bytes.Equal(c1, c2) {
		t.Error("ciphertexts should be different for each encryption")
	}
}

func TestEncryptor_DecryptInvalidInputs(t *testing.T) {
	enc, _ := NewEncryptor(testSecret)

	testCases := []struct {
		name       string
		ciphertext []byte
		nonce      []byte
		wantErr    error
	}{
		{"nil ciphertext", nil, []byte("123456789012"), ErrInvalidCiphertext},
		{"nil nonce", []byte("ciphertext"), nil, ErrInvalidCiphertext},
		{"wrong nonce size", []byte("ciphertext"), []byte("short"), ErrInvalidCiphertext},
		{"corrupted ciphertext", []byte("corrupted"), make([]byte, NonceSize), ErrDecryptionFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tc.ciphertext, tc.nonce, "TESTCONS"); err != tc.wantErr {
				t.Errorf("Decrypt() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestEncryptor_DeriveKey_Deterministic(t *testing.T) {
	enc, _ := NewEncryptor(testSecret)

	key1 := enc.DeriveKey("TESTCONS")
	key2 := enc.DeriveKey("TESTCONS")
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveKey should be deterministic for same inputs")
	}
	if len(key1) != KeySize {
		t.Errorf("DeriveKey() length = %d, want %d", len(key1), KeySize)
	}
	if bytes.Equal(key1, enc.DeriveKey("ACMECONS")) {
		t.Error("DeriveKey should differ per scope")
	}
}
