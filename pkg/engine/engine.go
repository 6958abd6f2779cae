// Package engine wires together the page/buffer/btree/journal/mvcc/
// exchange packages into a single embeddable, crash-recoverable,
// transactional ordered key-value store, the same assembly job the
// teacher's KV type does for its own (non-transactional, non-MVCC)
// B+-Tree over a single mmapped file.
package engine

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nainya/persistit/internal/logger"
	"github.com/nainya/persistit/internal/metrics"
	"github.com/nainya/persistit/pkg/btree"
	"github.com/nainya/persistit/pkg/buffer"
	"github.com/nainya/persistit/pkg/exchange"
	"github.com/nainya/persistit/pkg/journal"
	"github.com/nainya/persistit/pkg/mvcc"
	"github.com/nainya/persistit/pkg/page"
)

// Tree is one open named B+-Tree within a volume: the btree itself,
// the page store it reads and writes through, and the name of its
// volume. NewExchange builds a fresh cursor over it on each call.
type Tree struct {
	Name   string
	tree   *btree.BTree
	store  *store
	volume string
}

// NewExchange returns a fresh cursor over this tree.
func (t *Tree) NewExchange() *exchange.Exchange {
	return exchange.New(t.tree)
}

type volumeEntry struct {
	vol       *page.Volume
	store     *store
	directory *btree.BTree // name -> root page id, rooted at vol.TreeDirectory
	vid       journal.VolumeID
}

// Engine is one open database: a set of volumes, a shared buffer pool,
// a journal with its background flush/copy/checkpoint workers, and an
// MVCC manager layered on top for transaction isolation.
type Engine struct {
	mu sync.RWMutex

	cfg *Config
	log *logger.Logger

	pool     *buffer.Pool
	volumes  map[string]*volumeEntry
	trees    map[string]*Tree // "volume/tree" -> Tree

	jrnl         *journal.Journal
	flusher      *journal.Flusher
	copier       *journal.Copier
	checkpointer *journal.Checkpointer

	mvccMgr      *mvcc.Manager
	pruneSweeper *mvcc.PruneSweeper

	metrics *metrics.Metrics

	closed bool
}

// Open opens (creating as needed) every volume named in cfg, replays
// the journal to bring them to a consistent state, and starts the
// background copier/checkpointer/prune-sweeper workers.
func Open(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.Volumes) == 0 {
		return nil, Config("no volumes configured")
	}

	var logOut *os.File = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, IO(err)
		}
		logOut = f
	}
	log := logger.NewLogger(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: logOut}).EngineLogger()
	log.LogEngineStart(cfg.DataPath, cfg.JournalPath, len(cfg.Volumes))

	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, IO(err)
	}

	capacity := 0
	for _, n := range cfg.BufferCounts {
		capacity += n
	}
	pool := buffer.New(capacity)

	eng := &Engine{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		volumes: map[string]*volumeEntry{},
		trees:   map[string]*Tree{},
		jrnl:    jrnl,
		mvccMgr: mvcc.NewManager(64),
		metrics: engineMetrics(),
	}

	for i, spec := range cfg.Volumes {
		vol, err := openOrCreateVolume(spec)
		if err != nil {
			return nil, err
		}
		vid := journal.VolumeID(i + 1)
		st := newStore(vol, pool, jrnl, vid, spec.PageSize)

		dirTree := btree.New(spec.PageSize - page.ChecksumSize)
		dirTree.SetCallbacks(st.get, st.new, st.set, st.del)
		dirTree.SetRoot(uint64(vol.TreeDirectory))

		eng.volumes[spec.Name] = &volumeEntry{vol: vol, store: st, directory: dirTree, vid: vid}
		log.Info("volume opened").Str("volume", spec.Name).Str("path", spec.Path).Int("pagesize", spec.PageSize).Send()
	}

	if err := eng.recover(); err != nil {
		return nil, err
	}

	eng.flusher = journal.NewFlusher(jrnl, cfg.Durability)
	eng.copier = journal.NewCopier(pool, jrnl, func(v *page.Volume) journal.VolumeID {
		for _, ve := range eng.volumes {
			if ve.vol == v {
				return ve.vid
			}
		}
		return 0
	})
	eng.checkpointer = journal.NewCheckpointer(jrnl, eng.copier, eng.activeTxSnapshot, eng.dirtyLocations)
	eng.checkpointer.SetInterval(cfg.CheckpointInterval)

	appendOnly := cfg.AppendOnly
	for _, spec := range cfg.Volumes {
		if spec.AppendOnly {
			appendOnly = true
		}
	}
	if !appendOnly {
		eng.copier.Start()
	} else {
		log.Info("copier disabled, archive mode").Send()
	}
	eng.checkpointer.Start()
	eng.pruneSweeper = mvcc.NewPruneSweeper(eng.mvccMgr, cfg.CheckpointInterval)
	eng.pruneSweeper.Start()

	return eng, nil
}

// engineMetrics returns the process-wide Metrics shared by every Engine.
// NewMetrics registers its collectors with the default Prometheus
// registry, which panics on a second registration of the same names,
// so it runs once per process however many engines are opened.
var (
	metricsOnce   sync.Once
	sharedMetrics *metrics.Metrics
)

func engineMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { sharedMetrics = metrics.NewMetrics() })
	return sharedMetrics
}

func openOrCreateVolume(spec VolumeSpec) (*page.Volume, error) {
	if spec.CreateOnly && spec.ReadOnly {
		return nil, ErrInvalidVolumeSpecification
	}
	path := spec.Path
	if spec.Temporary {
		dir := spec.TmpVolDir
		if dir == "" {
			dir = os.TempDir()
		}
		f, err := os.CreateTemp(dir, spec.Name+"-*.vol")
		if err != nil {
			return nil, IO(err)
		}
		path = f.Name()
		f.Close()
		os.Remove(path) // page.Create expects to create the file itself
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	switch {
	case exists && spec.CreateOnly:
		return nil, ErrVolumeAlreadyExists
	case exists:
		vol, err := page.Open(path)
		if err != nil {
			return nil, err
		}
		if spec.ExpectedVolumeID != "" {
			want, err := hex.DecodeString(spec.ExpectedVolumeID)
			if err != nil || !bytes.Equal(want, vol.VolumeID[:]) {
				return nil, ErrWrongVolume
			}
		}
		if spec.ExtensionPages > 0 {
			vol.ExtensionBytes = int(spec.ExtensionPages) * vol.PageSize
		}
		vol.ReadOnly = spec.ReadOnly
		return vol, nil
	case !spec.Create:
		return nil, ErrInvalidVolumeSpecification
	default:
		vol, err := page.Create(path, spec.PageSize)
		if err != nil {
			return nil, err
		}
		vol.MaxPages = spec.MaximumPages
		if spec.ExtensionPages > 0 {
			vol.ExtensionBytes = int(spec.ExtensionPages) * spec.PageSize
		}
		if spec.InitialPages > 0 {
			if err := vol.Preallocate(spec.InitialPages); err != nil {
				return nil, err
			}
		}
		vol.ReadOnly = spec.ReadOnly
		return vol, nil
	}
}

// recover replays the journal's committed page images into their
// volumes and invalidates any buffer-pool frame that might be caching
// a now-stale copy of a page recovery just overwrote.
func (eng *Engine) recover() error {
	rec := journal.NewRecovery(eng.jrnl)
	stats, err := rec.Recover(func(volumeID journal.VolumeID, pageID uint64, body []byte) error {
		for _, ve := range eng.volumes {
			if ve.vid != volumeID {
				continue
			}
			pg := page.NewPage(ve.vol.PageSize)
			copy(pg.Body(), body)
			ve.vol.Put(page.ID(pageID), pg)
			eng.pool.Invalidate(ve.vol, page.ID(pageID))
			return nil
		}
		return fmt.Errorf("engine: recovery referenced unknown volume %d", volumeID)
	})
	if err != nil {
		return Corruption(err)
	}
	if stats.AppliedPages > 0 {
		for _, ve := range eng.volumes {
			if err := ve.vol.Sync(); err != nil {
				return IO(err)
			}
		}
	}
	eng.log.LogRecovery(stats.TotalRecords, stats.CommittedTxns, stats.AbortedTxns, stats.AppliedPages, 0)
	return nil
}

// OpenTree opens (creating if absent) a named tree within volumeName.
func (eng *Engine) OpenTree(volumeName, treeName string) (*Tree, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	fullName := volumeName + "/" + treeName
	if t, ok := eng.trees[fullName]; ok {
		return t, nil
	}

	ve, ok := eng.volumes[volumeName]
	if !ok {
		return nil, ErrTreeMissing
	}

	var policy btree.SplitPolicy
	for _, spec := range eng.cfg.Volumes {
		if spec.Name == volumeName {
			policy = spec.SplitPolicy
		}
	}

	t := btree.New(ve.vol.PageSize - page.ChecksumSize)
	t.Policy = policy
	t.SetCallbacks(ve.store.get, ve.store.new, ve.store.set, ve.store.del)

	if root, ok := eng.lookupTreeRootLocked(ve, treeName); ok {
		t.SetRoot(root)
	}

	tree := &Tree{Name: treeName, tree: t, store: ve.store, volume: volumeName}
	eng.trees[fullName] = tree
	return tree, nil
}

// RemoveTree drops treeName within volumeName entirely: every page it
// owns is freed back to the volume's garbage chain, its entry is
// removed from the volume's tree directory, and a TD record is
// journaled. Recovery does not read TD records.
func (eng *Engine) RemoveTree(volumeName, treeName string) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	ve, ok := eng.volumes[volumeName]
	if !ok {
		return ErrTreeMissing
	}
	if ve.vol.ReadOnly {
		return ErrReadOnlyVolume
	}

	fullName := volumeName + "/" + treeName
	t, ok := eng.trees[fullName]
	if !ok {
		root, found := eng.lookupTreeRootLocked(ve, treeName)
		if !found {
			return ErrTreeMissing
		}
		tt := btree.New(ve.vol.PageSize - page.ChecksumSize)
		tt.SetCallbacks(ve.store.get, ve.store.new, ve.store.set, ve.store.del)
		tt.SetRoot(root)
		t = &Tree{Name: treeName, tree: tt, store: ve.store, volume: volumeName}
	}

	if err := t.tree.DropAll(); err != nil {
		return translateTreeError(err)
	}
	if ok := ve.directory.Delete([]byte(treeName)); !ok {
		return ErrTreeMissing
	}
	ve.vol.TreeDirectory = page.ID(ve.directory.GetRoot())
	delete(eng.trees, fullName)

	rec := &journal.Record{
		LSN:  eng.jrnl.NextLSN(),
		Type: journal.RecTreeRemove,
		Payload: journal.EncodeTreeRemove(journal.TreeRemovePayload{
			VolumeID: uint64(ve.vid),
			TreeName: treeName,
		}),
	}
	if err := eng.jrnl.Append(rec); err != nil {
		return IO(err)
	}
	return nil
}

func (eng *Engine) lookupTreeRootLocked(ve *volumeEntry, treeName string) (uint64, bool) {
	v, ok := ve.directory.Get([]byte(treeName))
	if !ok || len(v) != 8 {
		return 0, false
	}
	return beUint64(v), true
}

// persistTreeRootLocked records tree's current root page id in its
// volume's directory tree, and the directory tree's own (possibly
// just-changed) root in the volume head page.
func (eng *Engine) persistTreeRootLocked(t *Tree) error {
	ve := eng.volumes[t.volume]
	if err := ve.directory.Insert([]byte(t.Name), beBytes(t.tree.GetRoot())); err != nil {
		return translateTreeError(err)
	}
	ve.vol.TreeDirectory = page.ID(ve.directory.GetRoot())
	return nil
}

// translateTreeError maps a btree-level error (or a page/buffer-layer
// error a page-storage callback panicked with, now recovered by
// BTree.Insert/DropAll) onto the engine's own typed error taxonomy.
func translateTreeError(err error) error {
	switch {
	case errors.Is(err, btree.ErrKeyTooLarge):
		return &Error{Kind: KindKeyTooLong, Message: ErrKeyTooLong.Message, Cause: err}
	case errors.Is(err, page.ErrVolumeFull):
		return &Error{Kind: KindVolumeFull, Message: ErrVolumeFull.Message, Cause: err}
	case errors.Is(err, page.ErrCorruptPage), errors.Is(err, page.ErrInvalidPageAddress):
		return Corruption(err)
	case errors.Is(err, page.ErrReadOnly):
		return ErrReadOnlyVolume
	case errors.Is(err, buffer.ErrTimeout):
		return Timeout(err)
	default:
		return IO(err)
	}
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Put stores value under key in treeName (autocommit: one physical
// write, journaled and applied immediately, with no MVCC isolation).
func (eng *Engine) Put(t *Tree, key, val []byte) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.volumes[t.volume].vol.ReadOnly {
		return ErrReadOnlyVolume
	}
	if err := t.tree.Insert(key, val); err != nil {
		return translateTreeError(err)
	}
	return eng.persistTreeRootLocked(t)
}

// Get reads the value at key in treeName as of the current physical
// state (not MVCC-isolated; use a Txn for snapshot reads).
func (eng *Engine) Get(t *Tree, key []byte) ([]byte, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return t.tree.Get(key)
}

// Delete removes key from treeName, reporting whether it existed.
func (eng *Engine) Delete(t *Tree, key []byte) bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.volumes[t.volume].vol.ReadOnly {
		return false
	}
	ok := t.tree.Delete(key)
	if ok {
		if err := eng.persistTreeRootLocked(t); err != nil {
			// Delete's bool-only signature predates directory
			// persistence being fallible; a real failure here (volume
			// full writing the directory's own new root) is as
			// unrecoverable for this call as it is for the pool/IO
			// panics store.go already raises for its own callbacks.
			panic(err)
		}
	}
	return ok
}

// Flush durably syncs every volume and the journal.
func (eng *Engine) Flush() error {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	start := time.Now()
	err := eng.jrnl.Sync()
	eng.metrics.RecordJournalFlush(time.Since(start))
	if err != nil {
		return IO(err)
	}
	for _, ve := range eng.volumes {
		if err := ve.vol.Sync(); err != nil {
			return IO(err)
		}
	}
	return nil
}

// Close stops background workers, flushes, and closes every volume.
func (eng *Engine) Close() error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.closed {
		return nil
	}
	eng.closed = true
	eng.log.LogEngineShutdown()

	eng.pruneSweeper.Stop()
	eng.checkpointer.Stop()
	eng.copier.Stop()

	if err := eng.jrnl.Sync(); err != nil {
		return IO(err)
	}
	for _, ve := range eng.volumes {
		if err := ve.vol.Sync(); err != nil {
			return IO(err)
		}
		if err := ve.vol.Close(); err != nil {
			return IO(err)
		}
	}
	return eng.jrnl.Close()
}

func (eng *Engine) activeTxSnapshot() []journal.ActiveTx {
	snaps := eng.mvccMgr.ActiveSnapshots()
	out := make([]journal.ActiveTx, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, journal.ActiveTx{TxnID: s, StartTS: s})
	}
	return out
}

func (eng *Engine) dirtyLocations() []journal.PageLocation {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	var out []journal.PageLocation
	for _, d := range eng.pool.DirtyPages() {
		var vid journal.VolumeID
		for _, ve := range eng.volumes {
			if ve.vol == d.Volume {
				vid = ve.vid
			}
		}
		out = append(out, journal.PageLocation{VolumeID: vid, PageID: uint64(d.ID)})
	}
	return out
}
