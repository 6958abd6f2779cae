package engine

import (
	"path/filepath"
	"testing"
)

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataPath = dir
	cfg.JournalPath = filepath.Join(dir, "journal")
	cfg.Volumes = []VolumeSpec{
		{Name: "main", Path: filepath.Join(dir, "main.vol"), PageSize: 16384, Create: true},
	}
	return cfg
}

func TestEngineOpenCloseReopen(t *testing.T) {
	cfg := testConfig(t)

	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tree, err := eng.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	if err := eng.Put(tree, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := eng.Put(tree, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	eng2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer eng2.Close()

	tree2, err := eng2.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("reopen tree: %v", err)
	}
	val, ok := eng2.Get(tree2, []byte("a"))
	if !ok || string(val) != "1" {
		t.Fatalf("expected a=1 after reopen, got %q ok=%v", val, ok)
	}
	val, ok = eng2.Get(tree2, []byte("b"))
	if !ok || string(val) != "2" {
		t.Fatalf("expected b=2 after reopen, got %q ok=%v", val, ok)
	}
}

func TestEngineDelete(t *testing.T) {
	eng, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	tree, err := eng.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	eng.Put(tree, []byte("k"), []byte("v"))
	if !eng.Delete(tree, []byte("k")) {
		t.Fatal("expected delete to report the key existed")
	}
	if _, ok := eng.Get(tree, []byte("k")); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestTxnCommitAndConflict(t *testing.T) {
	eng, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	tree, err := eng.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}

	tx1 := eng.Begin()
	tx1.Put(tree, []byte("x"), []byte("one"))
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	val, ok := eng.Get(tree, []byte("x"))
	if !ok || string(val) != "one" {
		t.Fatalf("expected x=one, got %q ok=%v", val, ok)
	}

	tx2 := eng.Begin()
	tx3 := eng.Begin()
	tx2.Put(tree, []byte("x"), []byte("two"))
	tx3.Put(tree, []byte("x"), []byte("three"))
	if err := tx2.Commit(); err != nil {
		t.Fatalf("tx2 commit: %v", err)
	}
	err = tx3.Commit()
	if err == nil {
		t.Fatal("expected tx3 to conflict with tx2's commit")
	}
	engErr, ok := err.(*Error)
	if !ok || engErr.Kind != KindConflict || !engErr.Retryable {
		t.Fatalf("expected a retryable conflict error, got %v", err)
	}
}

func TestTxnIsolatesUncommittedWrites(t *testing.T) {
	eng, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	tree, err := eng.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}

	tx := eng.Begin()
	tx.Put(tree, []byte("k"), []byte("staged"))

	if val, ok := tx.Get(tree, []byte("k")); !ok || string(val) != "staged" {
		t.Fatalf("transaction should see its own uncommitted write, got %q ok=%v", val, ok)
	}
	if _, ok := eng.Get(tree, []byte("k")); ok {
		t.Fatal("uncommitted write should not be visible outside the transaction")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if val, ok := eng.Get(tree, []byte("k")); !ok || string(val) != "staged" {
		t.Fatalf("expected k=staged after commit, got %q ok=%v", val, ok)
	}
}

func TestIntegrityCheckAndExportImport(t *testing.T) {
	eng, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	src, err := eng.OpenTree("main", "src")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	for i := byte(0); i < 20; i++ {
		eng.Put(src, []byte{'k', i}, []byte{'v', i})
	}

	if err := eng.IntegrityCheck(src); err != nil {
		t.Fatalf("integrity check: %v", err)
	}

	dump, err := eng.ExportRange(src, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, err := eng.OpenTree("main", "dst")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	if err := eng.Import(dst, dump); err != nil {
		t.Fatalf("import: %v", err)
	}
	for i := byte(0); i < 20; i++ {
		val, ok := eng.Get(dst, []byte{'k', i})
		if !ok || val[1] != i {
			t.Fatalf("key %d missing or wrong after import: %q ok=%v", i, val, ok)
		}
	}
}

// TestNestedTxnFoldsIntoOutermostCommit exercises a helper function
// that opens its own Commit/Rollback boundary with tx.Begin() instead
// of eng.Begin(), the pattern that lets two layers of code share one
// transaction without either double-committing it.
func TestNestedTxnFoldsIntoOutermostCommit(t *testing.T) {
	eng, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	tree, err := eng.OpenTree("main", "widgets")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}

	outer := eng.Begin()
	outer.Put(tree, []byte("x"), []byte("outer"))

	inner := outer.Begin()
	if inner != outer {
		t.Fatal("expected a nested Begin to return the same *Txn")
	}
	inner.Put(tree, []byte("y"), []byte("inner"))

	if err := inner.Commit(); err != nil {
		t.Fatalf("inner commit: %v", err)
	}
	if _, ok := eng.Get(tree, []byte("x")); ok {
		t.Fatal("expected the inner commit alone not to apply the outer transaction's writes yet")
	}

	if err := outer.Commit(); err != nil {
		t.Fatalf("outer commit: %v", err)
	}

	if val, ok := eng.Get(tree, []byte("x")); !ok || string(val) != "outer" {
		t.Fatalf("expected x=outer visible after outermost commit, got %q ok=%v", val, ok)
	}
	if val, ok := eng.Get(tree, []byte("y")); !ok || string(val) != "inner" {
		t.Fatalf("expected y=inner visible after outermost commit, got %q ok=%v", val, ok)
	}
}
