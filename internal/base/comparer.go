// Package base defines the internal key format, comparer and option types
// shared by every other package in the engine.
package base

import "bytes"

// Compare returns -1, 0, or +1 depending on whether a is less than, equal
// to, or greater than b.
type Compare func(a, b []byte) int

// Equal returns whether a and b are equal.
type Equal func(a, b []byte) bool

// Separator returns a short key in [a, b) suitable for storing in an index
// block. dst is the destination the result is appended to.
type Separator func(dst, a, b []byte) []byte

// Successor returns a short key >= a. dst is the destination the result is
// appended to.
type Successor func(dst, a []byte) []byte

// Comparer defines the ordering over user keys.
type Comparer struct {
	Compare   Compare
	Equal     Equal
	Separator Separator
	Successor Successor
	Name      string
}

// DefaultCompare implements the byte-wise ordering used unless an Options
// specifies a different Comparer.
func DefaultCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func defaultEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// SharedPrefixLen returns the length of the common prefix of a and b.
func SharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func defaultSeparator(dst, a, b []byte) []byte {
	if len(b) == 0 {
		return append(dst, a...)
	}
	n := SharedPrefixLen(a, b)
	if n == len(a) {
		return append(dst, a...)
	}
	// Try to shorten a by finding a byte at a[n] that can be incremented
	// while still remaining < b.
	if n < len(a) && a[n] < 0xff && (n == len(b) || a[n]+1 < b[n]) {
		buf := append(dst, a[:n+1]...)
		buf[len(buf)-1]++
		return buf
	}
	return append(dst, a...)
}

func defaultSuccessor(dst, a []byte) []byte {
	for i := 0; i < len(a); i++ {
		if c := a[i]; c != 0xff {
			buf := append(dst, a[:i+1]...)
			buf[len(buf)-1]++
			return buf
		}
	}
	return append(dst, a...)
}

// DefaultComparer is the bytewise ordering used by the engine; it does not
// support a custom collation order.
var DefaultComparer = &Comparer{
	Compare:   DefaultCompare,
	Equal:     defaultEqual,
	Separator: defaultSeparator,
	Successor: defaultSuccessor,
	Name:      "lsmredis.BytewiseComparator",
}
