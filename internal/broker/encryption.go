package broker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000

	// MinSecretLength is the shortest master secret NewEncryptor accepts.
	MinSecretLength = 32
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be at least 32 characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals cached session material at rest. Each scope (a consumer key)
// gets its own PBKDF2-derived AES-256-GCM key.
type Encryptor struct {
	masterKey []byte

	mu   sync.Mutex
	keys map[string][]byte
}

// NewEncryptor creates a new Encryptor with the given master secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256([]byte(secret))
	return &Encryptor{masterKey: hash[:], keys: make(map[string][]byte)}, nil
}

// DeriveKey derives the key for scope. Results are memoized since PBKDF2 is
// deliberately slow.
func (e *Encryptor) DeriveKey(scope string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if key, ok := e.keys[scope]; ok {
		return key
	}
	key := pbkdf2.Key(e.masterKey, []byte("scope:"+scope), PBKDF2Iterations, KeySize, sha256.New)
	e.keys[scope] = key
	return key
}

func (e *Encryptor) aead(scope string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.DeriveKey(scope))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext for scope and returns the ciphertext and the nonce
// used. The scope is bound as additional data.
func (e *Encryptor) Encrypt(plaintext []byte, scope string) (ciphertext, nonce []byte, err error) {
	gcm, err := e.aead(scope)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, []byte(scope))
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed by Encrypt for the same scope.
func (e *Encryptor) Decrypt(ciphertext, nonce []byte, scope string) ([]byte, error) {
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := e.aead(scope)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
