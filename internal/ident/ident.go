// Package ident mints short opaque connection identifiers.
package ident

import "math/rand"

// Alphabet is the 32-symbol set used for identifiers. I, O, 0 and 1 are
// excluded because they are visually ambiguous in logs and support tickets.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the identifier length used for connection ids.
const DefaultLength = 8

// New returns a fresh identifier of the given length. Safe for concurrent
// callers. Collision handling is the caller's responsibility; at length 8 the
// space is ~40 bits, so a collision inside a live connection set indicates a
// broken RNG rather than bad luck.
func New(length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = Alphabet[rand.Intn(len(Alphabet))]
	}
	return string(buf)
}
