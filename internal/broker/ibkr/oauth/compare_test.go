package oauth

import (
	"bytes"
	"testing"
	"time"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"both empty", nil, []byte{}, true},
		{"equal", []byte("live-session"), []byte("live-session"), true},
		{"last byte differs", []byte("abcdef"), []byte("abcdeg"), false},
		{"first byte differs", []byte("abcdef"), []byte("xbcdef"), false},
		{"prefix", []byte("abc"), []byte("abcdef"), false},
		{"zero padded prefix", []byte("abc"), []byte("abc\x00"), false},
		{"empty vs non-empty", nil, []byte{0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Equal(tt.b, tt.a); got != tt.want {
				t.Errorf("Equal(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

// TestEqual_TimingIndependentOfMismatchPosition is a coarse check that an early
// mismatch does not return measurably faster than a late one.
func TestEqual_TimingIndependentOfMismatchPosition(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test skipped in short mode")
	}

	a := bytes.Repeat([]byte{0xAB}, 4096)
	early := append([]byte(nil), a...)
	early[0] ^= 0xFF
	late := append([]byte(nil), a...)
	late[len(late)-1] ^= 0xFF

	measure := func(b []byte) time.Duration {
		best := time.Duration(1<<63 - 1)
		for run := 0; run < 5; run++ {
			start := time.Now()
			for i := 0; i < 2000; i++ {
				Equal(a, b)
			}
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}

	e, l := measure(early), measure(late)
	if e*4 < l || l*4 < e {
		t.Errorf("comparison time depends on mismatch position: early=%v late=%v", e, l)
	}
}
