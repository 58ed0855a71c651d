package oauth

import (
	"errors"
	"strings"
	"testing"

	apperrors "broker_gateway/internal/errors"
)

func TestLoadKeyMaterial_Valid(t *testing.T) {
	keys := loadTestKeys(t)

	if keys.DH.P.BitLen() != 2048 {
		t.Errorf("DH prime bits = %d, want 2048", keys.DH.P.BitLen())
	}
	if keys.DH.G.Int64() != 2 {
		t.Errorf("DH generator = %v, want 2", keys.DH.G)
	}
	if keys.EncryptionKey.N.BitLen() != 2048 {
		t.Errorf("encryption key bits = %d, want 2048", keys.EncryptionKey.N.BitLen())
	}
	if strings.Contains(keys.String(), keys.SignatureKey.D.String()) {
		t.Error("String() leaks private key material")
	}
}

func TestLoadKeyMaterial_Invalid(t *testing.T) {
	enc := readTestdata(t, "private_encryption.pem")
	sig := readTestdata(t, "private_signature.pem")
	dh := readTestdata(t, "dhparam.pem")

	tests := []struct {
		name          string
		enc, sig, dhp []byte
	}{
		{"empty encryption key", nil, sig, dh},
		{"garbage signature key", enc, []byte("not a pem"), dh},
		{"DH params as key", dh, sig, dh},
		{"key as DH params", enc, sig, sig},
		{"empty DH params", enc, sig, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKeyMaterial(tt.enc, tt.sig, tt.dhp)
			if !errors.Is(err, apperrors.ErrKeyLoad) {
				t.Errorf("LoadKeyMaterial() error = %v, want key load error", err)
			}
		})
	}
}

func TestParseRSAPrivateKey_Formats(t *testing.T) {
	// private_encryption.pem is PKCS#8, private_signature.pem is PKCS#1.
	for _, name := range []string{"private_encryption.pem", "private_signature.pem"} {
		if _, err := ParseRSAPrivateKey(readTestdata(t, name)); err != nil {
			t.Errorf("ParseRSAPrivateKey(%s) error = %v, want nil", name, err)
		}
	}
}

func TestSignRSA_Deterministic(t *testing.T) {
	keys := loadTestKeys(t)

	a, err := SignRSA("POST&https%3A%2F%2Fexample&x%3D1", keys.SignatureKey)
	if err != nil {
		t.Fatalf("SignRSA() error = %v, want nil", err)
	}
	b, err := SignRSA("POST&https%3A%2F%2Fexample&x%3D1", keys.SignatureKey)
	if err != nil {
		t.Fatalf("SignRSA() error = %v, want nil", err)
	}
	if string(a) != string(b) {
		t.Error("SignRSA() is not deterministic for equal inputs")
	}
	if len(a) != keys.SignatureKey.Size() {
		t.Errorf("signature length = %d, want %d", len(a), keys.SignatureKey.Size())
	}
}

func TestSignRSA_NilKey(t *testing.T) {
	if _, err := SignRSA("base", nil); !errors.Is(err, apperrors.ErrSigning) {
		t.Errorf("SignRSA(nil) error = %v, want signing error", err)
	}
}

func TestDecryptAccessTokenSecret_Invalid(t *testing.T) {
	keys := loadTestKeys(t)
	for _, in := range []string{"%%%", "c2hvcnQ="} {
		if _, _, err := DecryptAccessTokenSecret(in, keys.EncryptionKey); !errors.Is(err, apperrors.ErrSigning) {
			t.Errorf("DecryptAccessTokenSecret(%q) error = %v, want signing error", in, err)
		}
	}
}
