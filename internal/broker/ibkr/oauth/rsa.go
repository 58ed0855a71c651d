package oauth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	apperrors "broker_gateway/internal/errors"
)

// SignRSA signs baseString with RSASSA-PKCS1-v1_5 over SHA-256.
// PKCS#1 v1.5 signatures are deterministic, so equal inputs give equal signatures.
func SignRSA(baseString string, key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, apperrors.Signing("RSA signature key is missing")
	}
	if err := key.Validate(); err != nil {
		return nil, apperrors.Signing("RSA signature key is malformed")
	}

	digest := sha256.Sum256([]byte(baseString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, apperrors.Signing("RSA signing failed")
	}
	return sig, nil
}

// DecryptAccessTokenSecret recovers the handshake prepend: the broker issues the access
// token secret as base64 of an RSA PKCS#1 v1.5 ciphertext under the consumer's
// encryption key. The plaintext bytes and their lowercase hex form are returned.
func DecryptAccessTokenSecret(encrypted string, key *rsa.PrivateKey) ([]byte, string, error) {
	if key == nil {
		return nil, "", apperrors.Signing("RSA encryption key is missing")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, "", apperrors.Signing("access token secret is not valid base64")
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
	if err != nil {
		return nil, "", apperrors.Signing("access token secret does not decrypt with the encryption key")
	}
	return plaintext, hex.EncodeToString(plaintext), nil
}
