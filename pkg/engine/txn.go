package engine

import (
	"github.com/nainya/persistit/pkg/journal"
	"github.com/nainya/persistit/pkg/mvcc"
)

// pendingWrite is one write an open transaction has staged, recorded
// both in the MVCC manager (for conflict detection at commit) and here
// (so Commit knows which physical tree to apply it to — the MVCC
// chain itself is keyed by a flat namespaced string, not by Tree).
type pendingWrite struct {
	tree    *Tree
	key     []byte
	val     []byte
	deleted bool
}

// Txn is a snapshot-isolated transaction spanning one or more trees.
// Reads see the transaction's own uncommitted writes plus every write
// committed at or before the snapshot taken at Begin; writes are
// buffered in memory and only applied to the physical trees once
// Commit clears conflict detection, matching optimistic concurrency
// control's "validate once, at the end" shape.
type Txn struct {
	eng     *Engine
	mtx     *mvcc.Transaction
	writes  map[string]*pendingWrite
	done    bool
}

func nsKey(volume, tree string, key []byte) string {
	return volume + "\x00" + tree + "\x00" + string(key)
}

// Begin starts a new transaction.
func (eng *Engine) Begin() *Txn {
	return &Txn{eng: eng, mtx: eng.mvccMgr.Begin(), writes: map[string]*pendingWrite{}}
}

// Begin opens a nested scope on an already-open transaction: a helper
// that wants its own Commit/Rollback boundary can call tx.Begin()
// instead of Engine.Begin(), folding into tx's underlying
// mvcc.Transaction via Enter() rather than starting a second snapshot.
// The returned Txn is tx itself; only the outermost Commit actually
// journals and applies the writes staged across every nested scope.
func (tx *Txn) Begin() *Txn {
	tx.mtx.Enter()
	return tx
}

// Get reads key's value as of the transaction's snapshot, checking its
// own uncommitted writes first.
func (tx *Txn) Get(t *Tree, key []byte) ([]byte, bool) {
	ns := nsKey(t.volume, t.Name, key)
	if val, ok := tx.eng.mvccMgr.Get(tx.mtx, ns); ok {
		return val, true
	}
	if w, ok := tx.writes[ns]; ok {
		if w.deleted {
			return nil, false
		}
		return w.val, true
	}
	return tx.eng.Get(t, key)
}

// Put stages a write, visible to this transaction immediately and to
// others only after a successful Commit.
func (tx *Txn) Put(t *Tree, key, val []byte) {
	ns := nsKey(t.volume, t.Name, key)
	tx.eng.mvccMgr.Put(tx.mtx, ns, val)
	tx.writes[ns] = &pendingWrite{tree: t, key: append([]byte(nil), key...), val: append([]byte(nil), val...)}
}

// Delete stages a deletion.
func (tx *Txn) Delete(t *Tree, key []byte) {
	ns := nsKey(t.volume, t.Name, key)
	tx.eng.mvccMgr.Delete(tx.mtx, ns)
	tx.writes[ns] = &pendingWrite{tree: t, key: append([]byte(nil), key...), deleted: true}
}

// Commit validates the transaction against every write committed since
// its snapshot was taken; on success it journals a commit record and
// applies every staged write to its physical tree, and on a detected
// conflict it aborts and returns a retryable *Error.
func (tx *Txn) Commit() error {
	if tx.done {
		return nil
	}

	if err := tx.eng.mvccMgr.Commit(tx.mtx); err != nil {
		tx.done = true
		if _, ok := err.(*mvcc.Conflict); ok {
			tx.eng.metrics.RecordTx("conflict")
			return Conflict(err)
		}
		tx.eng.metrics.RecordTx("abort")
		return Rollback(err)
	}

	if tx.mtx.State() != mvcc.TxCommitted {
		// A nested Begin() is still outstanding; this unwinds one
		// level of nesting without journaling or applying anything.
		// The outermost Commit will see TxCommitted and finish the job.
		return nil
	}
	tx.done = true

	startRec := &journal.Record{LSN: tx.eng.jrnl.NextLSN(), Type: journal.RecTxStart, Payload: journal.EncodeTxnID(tx.mtx.ID)}
	if err := tx.eng.jrnl.Append(startRec); err != nil {
		return IO(err)
	}
	tx.eng.metrics.RecordTx("commit")

	tx.eng.mu.Lock()
	var applyErr error
	for _, w := range tx.writes {
		w.tree.store.txn = tx.mtx.ID
		if w.deleted {
			w.tree.tree.Delete(w.key)
		} else {
			applyErr = w.tree.tree.Insert(w.key, w.val)
		}
		w.tree.store.txn = 0
		if applyErr == nil {
			applyErr = tx.eng.persistTreeRootLocked(w.tree)
		}
		if applyErr != nil {
			break
		}
	}
	tx.eng.mu.Unlock()
	if applyErr != nil {
		// The transaction already validated and is journaled as started;
		// a write that can't physically apply (e.g. an over-length key
		// that slipped past staging) is a caller error, not a conflict,
		// so it's reported rather than silently rolled back.
		return translateTreeError(applyErr)
	}

	commitRec := &journal.Record{
		LSN:  tx.eng.jrnl.NextLSN(),
		Type: journal.RecTxCommit,
		Payload: journal.EncodeTxCommit(journal.TxCommitPayload{
			TxnID:    tx.mtx.ID,
			CommitTS: tx.mtx.ID,
		}),
	}
	if err := tx.eng.jrnl.Append(commitRec); err != nil {
		return IO(err)
	}
	return tx.eng.flusher.Flush()
}

// Rollback discards every staged write without applying any of them.
func (tx *Txn) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.eng.mvccMgr.Abort(tx.mtx)
	tx.eng.metrics.RecordTx("abort")

	rec := &journal.Record{LSN: tx.eng.jrnl.NextLSN(), Type: journal.RecTxRollback, Payload: journal.EncodeTxnID(tx.mtx.ID)}
	if err := tx.eng.jrnl.Append(rec); err != nil {
		return IO(err)
	}
	return nil
}
