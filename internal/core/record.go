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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/x-stp/blockcrack/internal/blocklist"
)

// Digest is the SHA-256 of a domain string. It identifies a Record.
type Digest [DigestSize]byte

// HashDomain returns the digest instances publish for domain.
func HashDomain(domain string) Digest {
	return sha256.Sum256([]byte(domain))
}

// ParseDigest decodes a hex digest as published by an instance.
// The returned error wraps ErrDigestEncoding or ErrDigestLength.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrDigestEncoding, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("%w: got %d bytes", ErrDigestLength, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// String returns the lowercase hex form, which is also the Record ID.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MaskSet is a set of masks. Insertion order is irrelevant; it serialises sorted.
type MaskSet map[string]struct{}

// NewMaskSet returns a set holding masks.
func NewMaskSet(masks ...string) MaskSet {
	s := make(MaskSet, len(masks))
	for _, m := range masks {
		s[m] = struct{}{}
	}
	return s
}

// Add inserts mask. Duplicates collapse.
func (s MaskSet) Add(mask string) { s[mask] = struct{}{} }

// Has reports whether mask is in the set.
func (s MaskSet) Has(mask string) bool {
	_, ok := s[mask]
	return ok
}

// Union returns a new set with the members of s and o.
func (s MaskSet) Union(o MaskSet) MaskSet {
	out := make(MaskSet, len(s)+len(o))
	for m := range s {
		out[m] = struct{}{}
	}
	for m := range o {
		out[m] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s MaskSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s MaskSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *MaskSet) UnmarshalJSON(data []byte) error {
	var masks []string
	if err := json.Unmarshal(data, &masks); err != nil {
		return err
	}
	*s = NewMaskSet(masks...)
	return nil
}

// Record aggregates what is known about one digest across all sources.
//
// Invariants: when KnownDomain is set, HashDomain(*KnownDomain) == Digest.
// Every mask in PartialDomains has the length of the true domain and matches
// it at every non-wildcard position.
type Record struct {
	Digest         Digest  `json:"digest"`
	KnownDomain    *string `json:"known_domain"`
	PartialDomains MaskSet `json:"partial_domains"`
}

// NewRecord builds a Record from one block-list entry.
// A domain without a wildcard is the known domain; otherwise it becomes the
// only mask. Fails with *ValidationError when the digest is malformed.
func NewRecord(source string, block blocklist.DomainBlock) (*Record, error) {
	digest, err := ParseDigest(block.Digest)
	if err != nil {
		return nil, &ValidationError{Source: source, Digest: block.Digest, Err: err}
	}

	r := &Record{Digest: digest, PartialDomains: MaskSet{}}
	if !block.IsObfuscated() {
		r.SetKnown(block.Domain)
	} else {
		r.PartialDomains.Add(block.Domain)
	}
	return r, nil
}

// ID is the store key of the Record.
func (r *Record) ID() string { return r.Digest.String() }

// Resolved reports whether the true domain is established.
func (r *Record) Resolved() bool { return r.KnownDomain != nil }

// SetKnown records domain as the true domain.
func (r *Record) SetKnown(domain string) {
	d := domain
	r.KnownDomain = &d
}

// Known returns the known domain, or "" when unresolved.
func (r *Record) Known() string {
	if r.KnownDomain == nil {
		return ""
	}
	return *r.KnownDomain
}

// DisplayDomain is the known domain if resolved, otherwise the first mask.
func (r *Record) DisplayDomain() string {
	if r.KnownDomain != nil {
		return *r.KnownDomain
	}
	if masks := r.PartialDomains.Sorted(); len(masks) > 0 {
		return masks[0]
	}
	return ""
}

// MinWildcards is the smallest wildcard count across the masks, or -1 without masks.
func (r *Record) MinWildcards() int {
	min := -1
	for m := range r.PartialDomains {
		if n := strings.Count(m, string(WildcardMarker)); min < 0 || n < min {
			min = n
		}
	}
	return min
}

// checkMergeDigests turns on the digest assertion in Merge. Tests enable it.
var checkMergeDigests = false

// Merge combines two Records that share a digest. The caller guarantees
// a.Digest == b.Digest; production code does not re-check it.
//
// The mask component is a set union: associative and commutative.
// The known-domain component is NOT commutative: a's known domain wins and b's
// is used only when a has none. If both sides carry different known domains,
// b's is dropped silently. Argument order is therefore part of the contract.
func Merge(a, b *Record) *Record {
	if checkMergeDigests && a.Digest != b.Digest {
		panic(fmt.Sprintf("merge of records with different digests: %s != %s", a.Digest, b.Digest))
	}

	out := &Record{
		Digest:         a.Digest,
		PartialDomains: a.PartialDomains.Union(b.PartialDomains),
	}
	switch {
	case a.KnownDomain != nil:
		out.SetKnown(*a.KnownDomain)
	case b.KnownDomain != nil:
		out.SetKnown(*b.KnownDomain)
	}
	return out
}
