// Package seqnum implements arithmetic on 8-bit wrapping sequence numbers.
package seqnum

// Seq8 is a sequence number in the ring 0..255.
type Seq8 uint8

// Next returns s+1 modulo 256.
func (s Seq8) Next() Seq8 {
	return s + 1
}

// Add returns s+n modulo 256.
func (s Seq8) Add(n int) Seq8 {
	return s + Seq8(uint8(n))
}

// Distance returns how many steps forward from s reach to (0..255).
func (s Seq8) Distance(to Seq8) int {
	return int(uint8(to - s))
}

// Diff returns the signed shortest distance from s to to (-128..127).
func (s Seq8) Diff(to Seq8) int {
	return int(int8(to - s))
}

// Offset orders s relative to base: negative when s precedes other
// as seen from base, zero when equal, positive when it follows.
func Offset(s, other, base Seq8) int {
	return base.Distance(s) - base.Distance(other)
}

// Before reports whether a comes strictly before b when counting forward from base.
func Before(a, b, base Seq8) bool {
	return Offset(a, b, base) < 0
}
