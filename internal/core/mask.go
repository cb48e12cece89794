package core

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"crypto/sha256"
	"math/bits"
)

// Mask is a parsed obfuscated domain: the literal bytes plus the positions of
// every wildcard, left to right.
type Mask struct {
	pattern   []byte
	wildcards []int
}

// ParseMask validates s against the candidate buffer and indexes its wildcards.
// Masks longer than MaxMaskLength fail with *ConfigurationError.
func ParseMask(s string) (*Mask, error) {
	if len(s) > MaxMaskLength {
		return nil, &ConfigurationError{Mask: s, Length: len(s), Limit: MaxMaskLength}
	}
	m := &Mask{pattern: []byte(s)}
	for i := 0; i < len(m.pattern); i++ {
		if m.pattern[i] == WildcardMarker {
			m.wildcards = append(m.wildcards, i)
		}
	}
	return m, nil
}

// String returns the mask text.
func (m *Mask) String() string { return string(m.pattern) }

// Len is the length of the mask and of every candidate.
func (m *Mask) Len() int { return len(m.pattern) }

// Wildcards is the number of masked positions.
func (m *Mask) Wildcards() int { return len(m.wildcards) }

// Combinations returns len(Alphabet)^Wildcards. ok is false when the count
// does not fit in a uint64; such a search is never feasible.
func (m *Mask) Combinations() (total uint64, ok bool) {
	total = 1
	for range m.wildcards {
		hi, lo := bits.Mul64(total, uint64(len(Alphabet)))
		if hi != 0 {
			return 0, false
		}
		total = lo
	}
	return total, true
}

// Matches reports whether domain is consistent with the mask: same length and
// identical at every non-wildcard position.
func (m *Mask) Matches(domain string) bool {
	if len(domain) != len(m.pattern) {
		return false
	}
	for i := 0; i < len(m.pattern); i++ {
		if m.pattern[i] != WildcardMarker && m.pattern[i] != domain[i] {
			return false
		}
	}
	return true
}

// Candidate writes the candidate with the given index into buf and returns it.
// The index is a mixed-radix number: digit k = (index / 36^k) mod 36 fills the
// k-th wildcard from the left, so the leftmost wildcard changes fastest.
func (m *Mask) Candidate(index uint64, buf []byte) []byte {
	buf = append(buf[:0], m.pattern...)
	base := uint64(len(Alphabet))
	for _, pos := range m.wildcards {
		buf[pos] = Alphabet[index%base]
		index /= base
	}
	return buf
}

// cursor walks consecutive candidate indexes without re-deriving every digit.
// Each worker owns one; it shares nothing with other workers.
type cursor struct {
	mask   *Mask
	digits []int
	buf    []byte
}

// newCursor positions a cursor at index start.
func newCursor(m *Mask, start uint64) *cursor {
	c := &cursor{
		mask:   m,
		digits: make([]int, len(m.wildcards)),
		buf:    make([]byte, 0, MaxMaskLength),
	}
	c.buf = m.Candidate(start, c.buf)
	base := uint64(len(Alphabet))
	for k := range c.digits {
		c.digits[k] = int(start % base)
		start /= base
	}
	return c
}

// next advances to the following index, carrying like an odometer.
func (c *cursor) next() {
	for k, pos := range c.mask.wildcards {
		c.digits[k]++
		if c.digits[k] < len(Alphabet) {
			c.buf[pos] = Alphabet[c.digits[k]]
			return
		}
		c.digits[k] = 0
		c.buf[pos] = Alphabet[0]
	}
}

// verify tests a candidate against the target digest.
func verify(candidate []byte, target Digest) bool {
	return sha256.Sum256(candidate) == target
}
