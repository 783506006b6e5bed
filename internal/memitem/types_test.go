package memitem

import (
	"testing"
	"time"
)

func TestParseTier_NormalisesDocumentsToBooks(t *testing.T) {
	tier, ok := ParseTier("documents")
	if !ok {
		t.Fatal("expected \"documents\" to parse")
	}
	if tier != TierBooks {
		t.Errorf("got %q, want %q", tier, TierBooks)
	}
}

func TestParseTier_AcceptsCanonicalTiers(t *testing.T) {
	for _, tier := range AllTiers() {
		got, ok := ParseTier(string(tier))
		if !ok {
			t.Errorf("expected %q to parse", tier)
		}
		if got != tier {
			t.Errorf("round-trip mismatch: got %q, want %q", got, tier)
		}
	}
}

func TestParseTier_RejectsUnknown(t *testing.T) {
	if _, ok := ParseTier("scratchpad"); ok {
		t.Error("expected unknown tier to fail to parse")
	}
}

func TestValidOutcome(t *testing.T) {
	valid := []Outcome{OutcomeWorked, OutcomePartial, OutcomeUnknown, OutcomeFailed}
	for _, o := range valid {
		if !ValidOutcome(o) {
			t.Errorf("expected %q to be valid", o)
		}
	}
	if ValidOutcome(Outcome("bogus")) {
		t.Error("expected unrecognised outcome to be invalid")
	}
}

func TestSuccessWeight(t *testing.T) {
	cases := map[Outcome]float64{
		OutcomeWorked:  1.0,
		OutcomePartial: 0.5,
		OutcomeUnknown: 0.25,
		OutcomeFailed:  0.0,
	}
	for outcome, want := range cases {
		if got := SuccessWeight(outcome); got != want {
			t.Errorf("SuccessWeight(%q): got %v, want %v", outcome, got, want)
		}
	}
}

func TestStats_OutcomeCount(t *testing.T) {
	s := Stats{Worked: 3, Partial: 2, Unknown: 1, Failed: 4}
	if got := s.OutcomeCount(OutcomeWorked); got != 3 {
		t.Errorf("worked count: got %d", got)
	}
	if got := s.OutcomeCount(OutcomeFailed); got != 4 {
		t.Errorf("failed count: got %d", got)
	}
	if got := s.OutcomeCount(Outcome("bogus")); got != 0 {
		t.Errorf("unknown outcome kind count: got %d, want 0", got)
	}
}

func TestMemoryItem_IsActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	active := MemoryItem{Status: StatusActive}
	if !active.IsActive(now) {
		t.Error("expected active item with no expiry to be active")
	}

	archived := MemoryItem{Status: StatusArchived}
	if archived.IsActive(now) {
		t.Error("expected archived item to be inactive")
	}

	past := now.Add(-time.Hour)
	expired := MemoryItem{Status: StatusActive, ExpiresAt: &past}
	if expired.IsActive(now) {
		t.Error("expected item past its expiry to be inactive")
	}

	future := now.Add(time.Hour)
	notYetExpired := MemoryItem{Status: StatusActive, ExpiresAt: &future}
	if !notYetExpired.IsActive(now) {
		t.Error("expected item before its expiry to be active")
	}
}

func TestMemoryItem_NeedsReindex(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	neverIndexed := MemoryItem{UpdatedAt: now}
	if !neverIndexed.NeedsReindex() {
		t.Error("expected zero-value embedding timestamp to need reindex")
	}

	stale := MemoryItem{UpdatedAt: now.Add(time.Hour)}
	stale.Embedding.LastIndexedAt = now
	if !stale.NeedsReindex() {
		t.Error("expected an item updated after it was last indexed to need reindex")
	}

	fresh := MemoryItem{UpdatedAt: now}
	fresh.Embedding.LastIndexedAt = now.Add(time.Hour)
	if fresh.NeedsReindex() {
		t.Error("expected an item indexed after its last update to not need reindex")
	}
}
