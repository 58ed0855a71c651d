package oauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	apperrors "broker_gateway/internal/errors"
)

// minPrimeBits rejects toy groups loaded by mistake; test groups are built in code.
const minPrimeBits = 256

// DHParams are the Diffie-Hellman domain parameters (prime modulus and generator).
// They are trusted configuration: only basic sanity is checked.
type DHParams struct {
	P *big.Int
	G *big.Int
}

// Validate checks p is odd and large enough and 1 < g < p-1.
func (d *DHParams) Validate() error {
	if d == nil || d.P == nil || d.G == nil {
		return fmt.Errorf("missing prime or generator")
	}
	if d.P.Bit(0) == 0 {
		return fmt.Errorf("prime is even")
	}
	pMinus1 := new(big.Int).Sub(d.P, big.NewInt(1))
	if d.G.Cmp(big.NewInt(1)) <= 0 || d.G.Cmp(pMinus1) >= 0 {
		return fmt.Errorf("generator out of range")
	}
	return nil
}

// KeyMaterial holds the loaded cryptographic inputs of the handshake.
// It is immutable after LoadKeyMaterial and safe to share.
type KeyMaterial struct {
	EncryptionKey *rsa.PrivateKey
	SignatureKey  *rsa.PrivateKey
	DH            *DHParams
}

// String never prints key material.
func (k *KeyMaterial) String() string {
	if k == nil || k.DH == nil {
		return "KeyMaterial{}"
	}
	return fmt.Sprintf("KeyMaterial{dh=%d bits}", k.DH.P.BitLen())
}

// LoadKeyMaterial parses the RSA private encryption key, the RSA private signature key,
// and the PEM-encoded Diffie-Hellman parameters.
func LoadKeyMaterial(encryptionKeyPEM, signatureKeyPEM, dhParamsPEM []byte) (*KeyMaterial, error) {
	encKey, err := ParseRSAPrivateKey(encryptionKeyPEM)
	if err != nil {
		return nil, apperrors.KeyLoad("loading encryption key", err)
	}
	sigKey, err := ParseRSAPrivateKey(signatureKeyPEM)
	if err != nil {
		return nil, apperrors.KeyLoad("loading signature key", err)
	}
	dh, err := ParseDHParams(dhParamsPEM)
	if err != nil {
		return nil, apperrors.KeyLoad("loading DH parameters", err)
	}
	return &KeyMaterial{
		EncryptionKey: encKey,
		SignatureKey:  sigKey,
		DH:            dh,
	}, nil
}

// ParseRSAPrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") PEM blocks.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty key content")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, not RSA", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
}

// ParseDHParams reads a PKCS#3 "DH PARAMETERS" PEM block:
// SEQUENCE { prime INTEGER, base INTEGER, privateValueLength INTEGER OPTIONAL }.
func ParseDHParams(data []byte) (*DHParams, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty DH parameter content")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if block.Type != "DH PARAMETERS" {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}

	input := cryptobyte.String(block.Bytes)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("malformed DH parameter sequence")
	}

	p, g := new(big.Int), new(big.Int)
	if !seq.ReadASN1Integer(p) || !seq.ReadASN1Integer(g) {
		return nil, fmt.Errorf("malformed DH prime or generator")
	}

	params := &DHParams{P: p, G: g}
	if p.BitLen() < minPrimeBits {
		return nil, fmt.Errorf("DH prime is %d bits, want at least %d", p.BitLen(), minPrimeBits)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
