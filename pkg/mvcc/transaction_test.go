package mvcc

import "testing"

func TestManagerBeginGetPutVisibility(t *testing.T) {
	m := NewManager(8)

	tx1 := m.Begin()
	m.Put(tx1, "k", []byte("v1"))

	if _, ok := m.Get(tx1, "k"); !ok {
		t.Fatal("expected writing transaction to see its own uncommitted write")
	}

	tx2 := m.Begin()
	if _, ok := m.Get(tx2, "k"); ok {
		t.Fatal("expected a concurrent transaction not to see tx1's uncommitted write")
	}

	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := m.Get(tx2, "k"); ok {
		t.Fatal("expected tx2's snapshot, taken before tx1 committed, still not to see the write")
	}

	tx3 := m.Begin()
	got, ok := m.Get(tx3, "k")
	if !ok || string(got) != "v1" {
		t.Fatalf("expected a transaction started after the commit to see it, got %q ok=%v", got, ok)
	}
}

func TestManagerDeleteProducesTombstone(t *testing.T) {
	m := NewManager(8)

	tx1 := m.Begin()
	m.Put(tx1, "k", []byte("v1"))
	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := m.Begin()
	m.Delete(tx2, "k")
	if err := m.Commit(tx2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3 := m.Begin()
	if _, ok := m.Get(tx3, "k"); ok {
		t.Fatal("expected key deleted by a committed transaction to read as absent")
	}
}

func TestManagerFirstCommitterWinsConflict(t *testing.T) {
	m := NewManager(8)

	tx1 := m.Begin()
	m.Put(tx1, "k", []byte("base"))
	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit base: %v", err)
	}

	txA := m.Begin()
	txB := m.Begin()

	m.Put(txA, "k", []byte("from-a"))
	m.Put(txB, "k", []byte("from-b"))

	if err := m.Commit(txA); err != nil {
		t.Fatalf("expected txA to commit cleanly, got %v", err)
	}

	err := m.Commit(txB)
	if err == nil {
		t.Fatal("expected txB to conflict with txA's commit")
	}
	conflict, ok := err.(*Conflict)
	if !ok || !conflict.Retryable {
		t.Fatalf("expected a retryable *Conflict, got %#v", err)
	}

	txC := m.Begin()
	got, _ := m.Get(txC, "k")
	if string(got) != "from-a" {
		t.Fatalf("expected the committed value to be txA's write, got %q", got)
	}
}

func TestManagerAbortUnlinksVersionFromChain(t *testing.T) {
	m := NewManager(8)

	tx1 := m.Begin()
	m.Put(tx1, "k", []byte("base"))
	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := m.Begin()
	m.Put(tx2, "k", []byte("aborted-write"))
	m.Abort(tx2)

	tx3 := m.Begin()
	got, ok := m.Get(tx3, "k")
	if !ok || string(got) != "base" {
		t.Fatalf("expected abort to unlink its version, leaving the prior commit visible, got %q ok=%v", got, ok)
	}
}

func TestManagerAbortIsIdempotentAfterCommit(t *testing.T) {
	m := NewManager(8)
	tx := m.Begin()
	m.Put(tx, "k", []byte("v"))
	if err := m.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	m.Abort(tx) // must be a harmless no-op once already committed
}

func TestCommitOnInactiveTransactionFails(t *testing.T) {
	m := NewManager(8)
	tx := m.Begin()
	if err := m.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := m.Commit(tx); err != ErrNotActive {
		t.Fatalf("expected ErrNotActive committing an already-committed transaction, got %v", err)
	}
}

func TestNestedEnterRequiresMatchingCommits(t *testing.T) {
	m := NewManager(8)
	tx := m.Begin()
	tx.Enter() // depth 2, simulating a nested helper sharing this transaction

	m.Put(tx, "k", []byte("v"))

	if err := m.Commit(tx); err != nil {
		t.Fatalf("inner commit: %v", err)
	}
	if tx.State() != TxActive {
		t.Fatal("expected transaction to remain active after only the inner commit unwound")
	}

	if err := m.Commit(tx); err != nil {
		t.Fatalf("outer commit: %v", err)
	}
	if tx.State() != TxCommitted {
		t.Fatal("expected transaction committed once depth reaches zero")
	}
}

func TestActiveSnapshotsReflectsOpenTransactions(t *testing.T) {
	m := NewManager(8)
	tx1 := m.Begin()
	snaps := m.ActiveSnapshots()
	if len(snaps) != 1 || snaps[0] != tx1.Snapshot {
		t.Fatalf("expected one active snapshot matching tx1, got %v", snaps)
	}

	if err := m.Commit(tx1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if snaps := m.ActiveSnapshots(); len(snaps) != 0 {
		t.Fatalf("expected no active snapshots after commit, got %v", snaps)
	}
}
