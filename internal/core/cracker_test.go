package core

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/x-stp/blockcrack/internal/store"
)

// journalStore records the order of writes and saves.
type journalStore struct {
	store.Store
	ops []string
}

func (j *journalStore) Set(kind, id string, value any) (bool, error) {
	j.ops = append(j.ops, "set "+kind+":"+id)
	return j.Store.Set(kind, id, value)
}

func (j *journalStore) Save() error {
	j.ops = append(j.ops, "save")
	return j.Store.Save()
}

func maskedRecord(domain string, masks ...string) *Record {
	return &Record{Digest: HashDomain(domain), PartialDomains: NewMaskSet(masks...)}
}

func seedRecords(t *testing.T, st store.Store, records ...*Record) {
	t.Helper()
	for _, r := range records {
		if err := PutRecord(st, r); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
	}
}

func TestOrderForCracking(t *testing.T) {
	t.Parallel()

	two := maskedRecord("bb.test", "b**est", "bb.t**t", "bb****")
	oneA := maskedRecord("one-a", "on*-a")
	oneB := maskedRecord("one-b", "on*-b")
	resolved := maskedRecord("known", "k*own")
	resolved.SetKnown("known")
	empty := &Record{Digest: HashDomain("empty"), PartialDomains: MaskSet{}}

	got := OrderForCracking([]*Record{two, resolved, oneB, empty, oneA})
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].MinWildcards() != 1 || got[1].MinWildcards() != 1 || got[2] != two {
		t.Fatalf("not ordered by wildcard count")
	}
	if got[0].ID() > got[1].ID() {
		t.Fatalf("ties not ordered by digest")
	}

	if masks := masksByCost(two); !reflect.DeepEqual(masks, []string{"b**est", "bb.t**t", "bb****"}) {
		t.Fatalf("masksByCost = %v", masks)
	}
}

func TestCrackerResolvesAndCheckpoints(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "database.json")
	base, err := store.OpenJSON(path, store.DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	st := &journalStore{Store: base}

	seedRecords(t, st,
		maskedRecord("example.com", "ex*mple.com"),
		maskedRecord("mastodon.social", "m**todon.social", "ma*todon.social"),
		maskedRecord("a-b.test", "a*b.test"), // '-' cannot be recovered
	)
	st.ops = nil

	searcher := newTestSearcher(t, 4, 0)
	stats, err := NewCracker(st, searcher, true).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Resolved.Load() != 2 || stats.Exhausted.Load() != 1 || stats.Processed.Load() != 3 || stats.GetPending() != 0 {
		t.Fatalf("unexpected stats: resolved=%d exhausted=%d processed=%d",
			stats.Resolved.Load(), stats.Exhausted.Load(), stats.Processed.Load())
	}

	// Every hit is set and saved before the next record is searched.
	for i, op := range st.ops {
		if strings.HasPrefix(op, "set ") && (i+1 >= len(st.ops) || st.ops[i+1] != "save") {
			t.Fatalf("write not followed by save: %v", st.ops)
		}
	}
	if len(st.ops) != 4 {
		t.Fatalf("expected two checkpoints, got %v", st.ops)
	}

	// The results are on disk without any further Save.
	reopened, err := store.OpenJSON(path, store.DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	for _, domain := range []string{"example.com", "mastodon.social"} {
		r := mustRecord(t, reopened, domain)
		if r.Known() != domain {
			t.Fatalf("%s not persisted, known = %q", domain, r.Known())
		}
	}
	ms := mustRecord(t, reopened, "mastodon.social")
	if len(ms.PartialDomains) != 2 {
		t.Fatalf("checkpoint dropped masks: %v", ms.PartialDomains.Sorted())
	}
	if mustRecord(t, reopened, "a-b.test").Resolved() {
		t.Fatalf("unrecoverable record resolved")
	}
}

func TestCrackerStopsOnConfigurationError(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	long := "**" + strings.Repeat("a", MaxMaskLength)
	seedRecords(t, st,
		maskedRecord("example.com", "ex*mple.com"),
		maskedRecord("long", long),
		maskedRecord("zz.test", "***.test"),
	)

	stats, err := NewCracker(st, newTestSearcher(t, 2, 0), false).Run(context.Background())
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if stats.Resolved.Load() != 1 {
		t.Fatalf("records before the bad mask should be resolved, got %d", stats.Resolved.Load())
	}
	if mustRecord(t, st, "zz.test").Resolved() {
		t.Fatalf("run continued past the configuration error")
	}
}

func TestCrackerHonoursCancellation(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedRecords(t, st, maskedRecord("example.com", "ex*mple.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCracker(st, newTestSearcher(t, 2, 0), false).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mustRecord(t, st, "example.com").Resolved() {
		t.Fatalf("cancelled run resolved a record")
	}
}

func TestCrackerSkipsInfeasibleMasks(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedRecords(t, st, maskedRecord("mastodon.social", "m**todon.social"))

	stats, err := NewCracker(st, newTestSearcher(t, 2, 36), false).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Infeasible.Load() != 1 || stats.Resolved.Load() != 0 {
		t.Fatalf("infeasible=%d resolved=%d", stats.Infeasible.Load(), stats.Resolved.Load())
	}
}
