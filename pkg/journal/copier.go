package journal

import (
	"time"

	"github.com/nainya/persistit/pkg/buffer"
	"github.com/nainya/persistit/pkg/page"
)

// VolumeID deterministically names a volume for PA/PM records; the
// journal only ever sees the pool's (*page.Volume, page.ID) pairs, so
// callers register each open volume once under a stable small ID
// instead of hashing file paths into the journal stream.
type VolumeID = uint64

// Copier periodically drains dirty pages out of the buffer pool and
// durably installs them into their volume, but only after the journal
// records covering those pages have been fsynced — the fix for the
// teacher's commit path, which wrote pages straight through without
// ever consulting its own write-ahead log.
type Copier struct {
	pool     *buffer.Pool
	journal  *Journal
	volumeID func(*page.Volume) VolumeID
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewCopier(pool *buffer.Pool, j *Journal, volumeID func(*page.Volume) VolumeID) *Copier {
	return &Copier{
		pool:     pool,
		journal:  j,
		volumeID: volumeID,
		interval: time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Copier) Start() {
	go c.run()
}

func (c *Copier) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Copier) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Sweep flushes the journal once, then writes back every dirty page
// currently resident in the pool and fsyncs each touched volume. The
// journal flush ordering (journal before data pages) is what lets
// recovery trust that any page on disk with no corresponding PA record
// reachable from the last checkpoint was never actually committed.
func (c *Copier) Sweep() error {
	if err := c.journal.Sync(); err != nil {
		return err
	}

	dirty := c.pool.DirtyPages()
	touched := map[*page.Volume]bool{}
	for _, d := range dirty {
		c.pool.WriteBack(d.Volume, d.ID)
		touched[d.Volume] = true
	}
	for vol := range touched {
		if err := vol.Sync(); err != nil {
			return err
		}
	}
	return nil
}
