// Package key defines the engine's order-preserving key encoding. Encoded
// keys compare correctly as plain byte strings, every encoded key is at
// least two bytes, and string keys of a common class share a leading marker
// byte, which front-compression in the page layer exploits.
package key

import (
	"keelstore/pkg/errs"
)

const (
	// TypeString marks a string key.
	TypeString = 0x21

	// terminator closes a string key so that a key is always strictly less
	// than any of its extensions.
	terminator = 0x00

	// MaxEncodedLength bounds an encoded key; the page layer stores the
	// elided byte count in a 10-bit field.
	MaxEncodedLength = 1023
)

// EncodeString encodes s as an order-preserving byte key.
func EncodeString(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, TypeString)
	out = append(out, s...)
	return append(out, terminator)
}

// DecodeString reverses EncodeString.
func DecodeString(b []byte) (string, error) {
	if len(b) < 2 || b[0] != TypeString || b[len(b)-1] != terminator {
		return "", errs.Newf(errs.KindInvalidArgument, "not an encoded string key (%d bytes)", len(b))
	}
	return string(b[1 : len(b)-1]), nil
}

// CommonPrefix returns the length of the shared prefix of a and b.
func CommonPrefix(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
