// Package memzero wipes secret buffers.
package memzero

import "crypto/subtle"

// Zero overwrites b with zeros. XORing the buffer with itself touches every byte
// without allocating a scratch copy.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.XORBytes(b, b, b)
}
