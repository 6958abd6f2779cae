package mvcc

import "testing"

func TestMaybePruneTruncatesChainPastThreshold(t *testing.T) {
	m := NewManager(1)

	for i := 0; i < 4; i++ {
		tx := m.Begin()
		m.Put(tx, "k", []byte{byte('a' + i)})
		if err := m.Commit(tx); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	if n := ChainLength(m.chains["k"]); n != 1 {
		t.Fatalf("expected opportunistic pruning to keep the chain at length 1 with no active readers, got %d", n)
	}

	tx := m.Begin()
	got, ok := m.Get(tx, "k")
	if !ok || string(got) != "d" {
		t.Fatalf("expected pruning to preserve the newest committed value, got %q ok=%v", got, ok)
	}
}

func TestMaybePruneRespectsActiveSnapshotFloor(t *testing.T) {
	m := NewManager(1)

	tx0 := m.Begin()
	m.Put(tx0, "k", []byte("v0"))
	if err := m.Commit(tx0); err != nil {
		t.Fatalf("commit v0: %v", err)
	}

	// A long-lived reader whose snapshot predates the next commits must
	// still be able to see v0 after later commits opportunistically prune.
	reader := m.Begin()

	tx1 := m.Begin()
	m.Put(tx1, "k", []byte("v1"))
	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	got, ok := m.Get(reader, "k")
	if !ok || string(got) != "v0" {
		t.Fatalf("expected long-lived reader to still see v0 after pruning, got %q ok=%v", got, ok)
	}
}

func TestPruneSweeperSweepsAllChains(t *testing.T) {
	m := NewManager(1000) // high threshold: maybePrune never fires on its own

	for _, key := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			tx := m.Begin()
			m.Put(tx, key, []byte{byte('0' + i)})
			if err := m.Commit(tx); err != nil {
				t.Fatalf("commit %s/%d: %v", key, i, err)
			}
		}
	}

	if n := ChainLength(m.chains["a"]); n != 3 {
		t.Fatalf("expected chain %q untouched before sweep, got length %d", "a", n)
	}

	sweeper := NewPruneSweeper(m, 0)
	sweeper.Sweep()

	for _, key := range []string{"a", "b"} {
		if n := ChainLength(m.chains[key]); n != 1 {
			t.Errorf("expected sweep to prune chain %q to length 1, got %d", key, n)
		}
	}
}

func TestPruneSweeperStartStop(t *testing.T) {
	m := NewManager(8)
	sweeper := NewPruneSweeper(m, 0)
	sweeper.Start()
	sweeper.Stop() // must return without hanging
}
