package core

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/store"
)

func newTestStore(t *testing.T) *store.JSONStore {
	t.Helper()
	st, err := store.OpenJSON(filepath.Join(t.TempDir(), "database.json"), store.DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func putLists(t *testing.T, st store.Store, lists ...*blocklist.BlockList) {
	t.Helper()
	for _, bl := range lists {
		if err := PutBlockList(st, bl); err != nil {
			t.Fatalf("PutBlockList: %v", err)
		}
	}
}

func mustRecord(t *testing.T, st store.Store, domain string) *Record {
	t.Helper()
	r, ok, err := GetRecord(st, digestHex(domain))
	if err != nil || !ok {
		t.Fatalf("GetRecord(%s): ok=%v err=%v", domain, ok, err)
	}
	return r
}

func TestProcessMergesAcrossSources(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	putLists(t, st,
		&blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{
			block("ex*mple.com", digestHex("example.com")),
			block("m*stodon.social", digestHex("mastodon.social")),
		}},
		&blocklist.BlockList{Source: "b.test", Entries: []blocklist.DomainBlock{
			block("example.com", digestHex("example.com")),
			block("ma*todon.social", digestHex("mastodon.social")),
			block("m*stodon.social", digestHex("mastodon.social")),
		}},
	)

	stats, err := Process(st, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stats.Lists != 2 || stats.Entries != 5 || stats.Created != 2 || stats.Merged != 3 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Resolved != 1 || stats.Unresolved != 1 {
		t.Fatalf("resolved/unresolved = %d/%d", stats.Resolved, stats.Unresolved)
	}

	ex := mustRecord(t, st, "example.com")
	if ex.Known() != "example.com" || !reflect.DeepEqual(ex.PartialDomains.Sorted(), []string{"ex*mple.com"}) {
		t.Fatalf("example.com record = %q %v", ex.Known(), ex.PartialDomains.Sorted())
	}
	ms := mustRecord(t, st, "mastodon.social")
	if ms.Resolved() || !reflect.DeepEqual(ms.PartialDomains.Sorted(), []string{"m*stodon.social", "ma*todon.social"}) {
		t.Fatalf("mastodon.social record = %v %v", ms.KnownDomain, ms.PartialDomains.Sorted())
	}

	// A second run over the same lists changes nothing.
	if _, err := Process(st, false); err != nil {
		t.Fatalf("Process again: %v", err)
	}
	again := mustRecord(t, st, "mastodon.social")
	if !reflect.DeepEqual(again.PartialDomains.Sorted(), ms.PartialDomains.Sorted()) {
		t.Fatalf("reprocessing changed masks: %v", again.PartialDomains.Sorted())
	}
}

func TestProcessKeepsCrackedAndOrphanedRecords(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	cracked := &Record{Digest: HashDomain("mastodon.social"), PartialDomains: NewMaskSet("m*stodon.social")}
	cracked.SetKnown("mastodon.social")
	orphan := &Record{Digest: HashDomain("gone.example"), PartialDomains: NewMaskSet("g*ne.example")}
	for _, r := range []*Record{cracked, orphan} {
		if err := PutRecord(st, r); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
	}
	putLists(t, st, &blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{
		block("m*stodon.social", digestHex("mastodon.social")),
	}})

	if _, err := Process(st, false); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := mustRecord(t, st, "mastodon.social").Known(); got != "mastodon.social" {
		t.Fatalf("cracked domain lost: %q", got)
	}
	if !mustRecord(t, st, "gone.example").PartialDomains.Has("g*ne.example") {
		t.Fatalf("orphaned record altered")
	}
}

func TestProcessIsolatesInvalidEntries(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	putLists(t, st, &blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{
		block("bad.example", "not-hex"),
		block("example.com", digestHex("example.com")),
		block("short.example", "abcd"),
	}})

	stats, err := Process(st, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stats.Skipped != 2 || stats.Created != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	mustRecord(t, st, "example.com")
}

func TestProcessStrictAbortsOnFirstInvalidEntry(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	putLists(t, st, &blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{
		block("example.com", digestHex("example.com")),
		block("bad.example", "not-hex"),
	}})

	_, err := Process(st, true)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Source != "a.test" {
		t.Fatalf("expected *ValidationError from a.test, got %v", err)
	}
	if ids, _ := st.IDs(KindDomain); len(ids) != 0 {
		t.Fatalf("strict abort still wrote records: %v", ids)
	}
}

func TestProcessCountsDigestMismatch(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	putLists(t, st, &blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{
		block("liar.example", digestHex("other.example")),
	}})

	stats, err := Process(st, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stats.Mismatched != 1 {
		t.Fatalf("Mismatched = %d", stats.Mismatched)
	}
	if got := mustRecord(t, st, "other.example").Known(); got != "liar.example" {
		t.Fatalf("mismatched entry dropped, known = %q", got)
	}
}

func TestProcessCountsMaskConflicts(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	d := digestHex("example.com")
	putLists(t, st,
		&blocklist.BlockList{Source: "a.test", Entries: []blocklist.DomainBlock{block("example.com", d)}},
		&blocklist.BlockList{Source: "b.test", Entries: []blocklist.DomainBlock{
			block("ex*mple.orgg", d),
			block("ex*mple.com", d),
		}},
	)

	stats, err := Process(st, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stats.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Mismatched != 0 {
		t.Fatalf("Mismatched = %d, want 0", stats.Mismatched)
	}
	r := mustRecord(t, st, "example.com")
	if r.Known() != "example.com" {
		t.Fatalf("known = %q", r.Known())
	}
	if !r.PartialDomains.Has("ex*mple.orgg") || !r.PartialDomains.Has("ex*mple.com") {
		t.Fatalf("conflicting mask dropped: %v", r.PartialDomains.Sorted())
	}

	// Masks of unresolved records are never in conflict.
	if n := checkMasks(&Record{PartialDomains: NewMaskSet("a*c", "toolong*")}); n != 0 {
		t.Fatalf("checkMasks(unresolved) = %d", n)
	}
}

func TestAttributions(t *testing.T) {
	t.Parallel()

	d := digestHex("example.com")
	lists := []*blocklist.BlockList{
		{Source: "a.test", Entries: []blocklist.DomainBlock{{Domain: "ex*mple.com", Digest: d, Severity: blocklist.SeveritySilence, Comment: "spam"}}},
		{Source: "b.test", Entries: []blocklist.DomainBlock{{Domain: "other", Digest: digestHex("other")}}},
		{Source: "c.test", Entries: []blocklist.DomainBlock{{Domain: "example.com", Digest: d, Severity: blocklist.SeveritySuspend}}},
	}
	got := Attributions(lists, d)
	want := []Attribution{
		{Source: "a.test", Severity: blocklist.SeveritySilence, Comment: "spam"},
		{Source: "c.test", Severity: blocklist.SeveritySuspend},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Attributions = %+v", got)
	}
	if s := got[0].String(); s != "Blocked by a.test (silence) for reason: spam" {
		t.Fatalf("String = %q", s)
	}
	if s := got[1].String(); s != "Blocked by c.test (suspend)" {
		t.Fatalf("String = %q", s)
	}
}
