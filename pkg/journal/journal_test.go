package journal

import (
	"path/filepath"
	"testing"
)

func TestJournalAppendAndReopenResumesLSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var lastLSN uint64
	for i := 0; i < 5; i++ {
		lsn := j.NextLSN()
		lastLSN = lsn
		rec := &Record{LSN: lsn, Type: RecTxStart, Payload: EncodeTxnID(uint64(i))}
		if err := j.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	next := j2.NextLSN()
	if next <= lastLSN {
		t.Fatalf("expected LSN allocation to resume above %d, got %d", lastLSN, next)
	}
}

func TestJournalAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec := &Record{LSN: j.NextLSN(), Type: RecTxStart, Payload: EncodeTxnID(1)}
	if err := j.Append(rec); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
