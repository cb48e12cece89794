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
	"fmt"
	"strings"

	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/store"
)

// Object kinds under which blockcrack keeps its data.
const (
	KindBlockList = "blocklist" // id: source instance
	KindDomain    = "domain"    // id: digest hex
)

// PutBlockList stores the observed block list of one source, replacing the previous one.
func PutBlockList(st store.Store, bl *blocklist.BlockList) error {
	if _, err := st.Set(KindBlockList, bl.Source, bl); err != nil {
		return fmt.Errorf("failed to store block list of %s: %w", bl.Source, err)
	}
	return nil
}

// LoadBlockLists returns every stored block list, ordered by source.
func LoadBlockLists(st store.Store) ([]*blocklist.BlockList, error) {
	ids, err := st.IDs(KindBlockList)
	if err != nil {
		return nil, fmt.Errorf("error listing block lists: %w", err)
	}
	lists := make([]*blocklist.BlockList, 0, len(ids))
	for _, id := range ids {
		bl := &blocklist.BlockList{}
		if _, err := st.Get(KindBlockList, id, bl); err != nil {
			return nil, fmt.Errorf("error loading block list %s: %w", id, err)
		}
		if bl.Source == "" {
			bl.Source = id
		}
		lists = append(lists, bl)
	}
	return lists, nil
}

// GetRecord reads the Record stored under id (its digest hex).
func GetRecord(st store.Store, id string) (*Record, bool, error) {
	r := &Record{}
	ok, err := st.Get(KindDomain, id, r)
	if err != nil || !ok {
		return nil, ok, err
	}
	if r.PartialDomains == nil {
		r.PartialDomains = MaskSet{}
	}
	return r, true, nil
}

// PutRecord writes r under its digest hex.
func PutRecord(st store.Store, r *Record) error {
	if _, err := st.Set(KindDomain, r.ID(), r); err != nil {
		return fmt.Errorf("failed to store record %s: %w", r.ID(), err)
	}
	return nil
}

// LoadRecords returns every stored Record, ordered by digest hex.
func LoadRecords(st store.Store) ([]*Record, error) {
	ids, err := st.IDs(KindDomain)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, ok, err := GetRecord(st, id)
		if err != nil {
			return nil, fmt.Errorf("error loading record %s: %w", id, err)
		}
		if ok {
			records = append(records, r)
		}
	}
	return records, nil
}

// CountRecords splits records into resolved and unresolved totals.
func CountRecords(records []*Record) (resolved, unresolved int) {
	for _, r := range records {
		if r.Resolved() {
			resolved++
		} else {
			unresolved++
		}
	}
	return resolved, unresolved
}

// Attribution is one source's reason for blocking a domain.
type Attribution struct {
	Source   string
	Severity blocklist.Severity
	Comment  string
}

// String renders the attribution the way show prints it.
func (a Attribution) String() string {
	var b strings.Builder
	b.WriteString("Blocked by ")
	b.WriteString(a.Source)
	if a.Severity != "" {
		fmt.Fprintf(&b, " (%s)", a.Severity)
	}
	if a.Comment != "" {
		b.WriteString(" for reason: ")
		b.WriteString(a.Comment)
	}
	return b.String()
}

// Attributions lists which of lists block the digest id, in list order.
func Attributions(lists []*blocklist.BlockList, id string) []Attribution {
	var out []Attribution
	for _, bl := range lists {
		if e, ok := bl.Find(id); ok {
			out = append(out, Attribution{Source: bl.Source, Severity: e.Severity, Comment: e.Comment})
		}
	}
	return out
}
