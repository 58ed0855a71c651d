// Package oauth implements the broker's OAuth 1.0a live session token handshake:
// RSA-signed token requests, the Diffie-Hellman exchange, token derivation and
// validation, the token lifecycle, and HMAC request signing.
package oauth

import "errors"

var errNotAbsolute = errors.New("URL must be absolute")
