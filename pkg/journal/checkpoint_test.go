package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/persistit/pkg/buffer"
	"github.com/nainya/persistit/pkg/page"
)

func TestCheckpointRecordsActiveTxAndDirtyPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	pool := buffer.New(4)
	copier := NewCopier(pool, j, func(v *page.Volume) VolumeID { return 1 })

	var activeTxCalled, dirtyCalled bool
	cp := NewCheckpointer(j, copier, func() []ActiveTx {
		activeTxCalled = true
		return []ActiveTx{{TxnID: 7, StartTS: 7}}
	}, func() []PageLocation {
		dirtyCalled = true
		return nil
	})
	cp.SetInterval(time.Hour)

	if err := cp.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !activeTxCalled || !dirtyCalled {
		t.Fatal("expected checkpoint to consult both active-tx and dirty-page callbacks")
	}
}

func TestRepeatedCheckpointsSucceed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	pool := buffer.New(4)
	copier := NewCopier(pool, j, func(v *page.Volume) VolumeID { return 1 })
	cp := NewCheckpointer(j, copier, func() []ActiveTx { return nil }, func() []PageLocation { return nil })

	for i := 0; i < 5; i++ {
		if err := cp.Checkpoint(); err != nil {
			t.Fatalf("checkpoint %d: %v", i, err)
		}
	}
}
