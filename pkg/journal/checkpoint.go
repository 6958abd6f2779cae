package journal

import (
	"time"
)

// DefaultCheckpointInterval mirrors the write-ahead log's periodic
// checkpoint cadence.
const DefaultCheckpointInterval = 5 * time.Minute

// ActiveTx describes one in-flight transaction as of the moment a
// checkpoint is taken.
type ActiveTx struct {
	TxnID   uint64
	StartTS uint64
}

// PageLocation is the journal address of the most recent PA record for
// one page, as known at checkpoint time.
type PageLocation struct {
	VolumeID VolumeID
	PageID   uint64
	Address  uint64
}

// Checkpointer periodically flushes dirty pages (via Copier) and then
// records a checkpoint boundary: a CU marker followed by a PM entry
// per dirty page outstanding and a TM entry per active transaction.
// Recovery only needs to scan forward from the latest CU's base
// address, never from the start of the journal.
type Checkpointer struct {
	j        *Journal
	copier   *Copier
	interval time.Duration

	activeTx     func() []ActiveTx
	dirtyLocations func() []PageLocation

	stop chan struct{}
	done chan struct{}
}

func NewCheckpointer(j *Journal, copier *Copier, activeTx func() []ActiveTx, dirtyLocations func() []PageLocation) *Checkpointer {
	return &Checkpointer{
		j:              j,
		copier:         copier,
		interval:       DefaultCheckpointInterval,
		activeTx:       activeTx,
		dirtyLocations: dirtyLocations,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (c *Checkpointer) SetInterval(d time.Duration) { c.interval = d }

func (c *Checkpointer) Start() { go c.run() }

func (c *Checkpointer) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Checkpointer) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Checkpoint()
		case <-c.stop:
			return
		}
	}
}

// Checkpoint flushes all dirty pages, then writes the CU/PM/TM records
// describing the engine's durable state at this instant, and finally
// prunes journal segments that are no longer needed for recovery.
func (c *Checkpointer) Checkpoint() error {
	if err := c.copier.Sweep(); err != nil {
		return err
	}

	base := c.j.NextLSN()
	cu := &Record{LSN: base, Type: RecCheckpointStart, Payload: EncodeCheckpointStart(CheckpointStartPayload{
		BaseAddress: base,
		Timestamp:   nowUnix(),
	})}
	if err := c.j.Append(cu); err != nil {
		return err
	}

	for _, loc := range c.dirtyLocations() {
		rec := &Record{LSN: c.j.NextLSN(), Type: RecPageMap, Payload: EncodePageMap(PageMapPayload{
			VolumeID:       loc.VolumeID,
			PageID:         loc.PageID,
			JournalAddress: loc.Address,
		})}
		if err := c.j.Append(rec); err != nil {
			return err
		}
	}

	for _, tx := range c.activeTx() {
		rec := &Record{LSN: c.j.NextLSN(), Type: RecTransactionMap, Payload: EncodeTransactionMap(TransactionMapPayload{
			TxnID:   tx.TxnID,
			StartTS: tx.StartTS,
		})}
		if err := c.j.Append(rec); err != nil {
			return err
		}
	}

	if err := c.j.Sync(); err != nil {
		return err
	}
	return c.j.Prune()
}
