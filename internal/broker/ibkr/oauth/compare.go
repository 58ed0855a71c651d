package oauth

import "crypto/subtle"

// Equal reports whether a and b hold the same bytes. It walks max(len(a), len(b))
// positions with zero padding and folds every difference, including the length
// difference, into one accumulator, so the running time does not depend on where
// the inputs first differ.
func Equal(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}

	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	sameBytes := subtle.ConstantTimeByteEq(diff, 0)
	return sameLen&sameBytes == 1
}
