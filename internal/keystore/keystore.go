// Package keystore loads the handshake key material (RSA encryption key, RSA
// signature key, Diffie-Hellman parameters) from files, environment variables,
// or the system keyring.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"broker_gateway/internal/broker/ibkr/oauth"
	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/util/memzero"
)

// Names of the three key material entries.
const (
	NameEncryptionKey = "encryption_key"
	NameSignatureKey  = "signature_key"
	NameDHParams      = "dh_params"
)

// Names lists every entry LoadKeyMaterial reads.
var Names = []string{NameEncryptionKey, NameSignatureKey, NameDHParams}

var (
	// ErrNotFound indicates a source has no value for a key name.
	ErrNotFound = errors.New("key material not found")

	// ErrEmpty indicates a source holds an empty value.
	ErrEmpty = errors.New("key material is empty")
)

// Source returns raw PEM content by name.
type Source interface {
	Load(name string) ([]byte, error)
}

// FileSource reads PEM files. Paths maps key names to file paths.
type FileSource struct {
	Paths map[string]string
}

// Load reads the file configured for name.
func (s FileSource) Load(name string) ([]byte, error) {
	path := s.Paths[name]
	if path == "" {
		return nil, fmt.Errorf("%s: no file configured: %w", name, ErrNotFound)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %s does not exist: %w", name, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading %s: %w", name, path, err)
	}
	return nonEmpty(name, data)
}

// EnvSource reads PEM content from environment variables. Vars maps key names to
// variable names. Literal "\n" sequences are expanded so a PEM block fits on one line.
type EnvSource struct {
	Vars   map[string]string
	Lookup func(string) (string, bool)
}

// Load reads the variable configured for name.
func (s EnvSource) Load(name string) ([]byte, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := s.Vars[name]
	if key == "" {
		return nil, fmt.Errorf("%s: no variable configured: %w", name, ErrNotFound)
	}
	v, ok := lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: $%s is not set: %w", name, key, ErrNotFound)
	}
	return nonEmpty(name, []byte(strings.ReplaceAll(v, `\n`, "\n")))
}

// BytesSource serves in-memory content, mostly for tests and embedding.
type BytesSource map[string][]byte

// Load returns a copy of the stored content.
func (s BytesSource) Load(name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return nonEmpty(name, append([]byte(nil), data...))
}

// Chain tries each source in order and returns the first value found.
type Chain []Source

// Load returns the first source's value that is not ErrNotFound.
func (c Chain) Load(name string) ([]byte, error) {
	for _, src := range c {
		data, err := src.Load(name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// LoadKeyMaterial reads and parses all three entries from src. The raw PEM
// buffers are wiped once parsed.
func LoadKeyMaterial(src Source) (*oauth.KeyMaterial, error) {
	raw := make(map[string][]byte, len(Names))
	defer func() {
		for _, b := range raw {
			memzero.Zero(b)
		}
	}()

	for _, name := range Names {
		data, err := src.Load(name)
		if err != nil {
			return nil, apperrors.KeyLoad("loading "+name, err)
		}
		raw[name] = data
	}
	return oauth.LoadKeyMaterial(raw[NameEncryptionKey], raw[NameSignatureKey], raw[NameDHParams])
}

func nonEmpty(name string, data []byte) ([]byte, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	return data, nil
}
