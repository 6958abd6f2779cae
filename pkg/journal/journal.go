// Package journal implements the write-ahead log of page images and
// transaction boundary markers that makes committed writes durable
// and crash recovery possible, segment rotation and all, the way the
// corpus's wal package does for key/value entries.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	// MaxSegmentSize bounds a single journal file before rotation.
	MaxSegmentSize = 100 << 20

	// MaxSegments is how many rotated segments are kept once their
	// content is behind the last checkpoint's base address.
	MaxSegments = 3

	filePrefix = "journal"
)

// Journal is an append-only, segment-rotated log of Records. Every
// write except the header record Open puts in a new journal (LSN 0) is
// assigned a strictly increasing LSN via NextLSN before it is encoded,
// so a Record's LSN also doubles as its logical journal address.
type Journal struct {
	Path string

	mu        sync.Mutex
	fd        *os.File
	lsn       uint64
	fileSize  int64
	fileIndex int
	closed    bool
}

// Open opens or creates the journal rooted at path, resuming LSN
// allocation from whatever the existing segments' highest record used.
func Open(path string) (*Journal, error) {
	j := &Journal{Path: path}
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.findSegments()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(files) > 0 {
		latest := files[len(files)-1]
		fd, err := os.OpenFile(latest, os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		j.fd = fd
		stat, err := fd.Stat()
		if err != nil {
			return nil, err
		}
		j.fileSize = stat.Size()
		fmt.Sscanf(filepath.Base(latest), j.baseName()+".%d", &j.fileIndex)

		maxLSN, err := j.scanHighestLSN(files)
		if err != nil {
			return nil, err
		}
		j.lsn = maxLSN
	} else {
		segPath := j.segmentPath(0)
		if err := os.MkdirAll(filepath.Dir(segPath), 0755); err != nil {
			return nil, err
		}
		fd, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		j.fd = fd
		header := &Record{Type: RecJournalHeader, Payload: EncodeTxnID(uint64(nowUnix()))}
		if err := j.appendLocked(header); err != nil {
			return nil, err
		}
	}

	return j, nil
}

// NextLSN reserves and returns the next record address.
func (j *Journal) NextLSN() uint64 {
	return atomic.AddUint64(&j.lsn, 1)
}

// Append writes one record, rotating the active segment first if it
// would overflow MaxSegmentSize. It returns only an error; the record's
// address is its LSN, stamped by the caller before calling Append.
func (j *Journal) Append(r *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(r)
}

func (j *Journal) appendLocked(r *Record) error {
	if j.closed {
		return ErrClosed
	}
	data := r.Encode()
	if j.fileSize+int64(len(data)) > MaxSegmentSize {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := j.fd.Write(data)
	if err != nil {
		return err
	}
	j.fileSize += int64(n)
	return nil
}

// Sync fsyncs the active segment, the durability boundary a commit
// must wait behind before reporting success to its caller.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.fd.Sync()
}

// Close closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.fd.Close()
}

func (j *Journal) rotateLocked() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}
	j.fileIndex++
	fd, err := os.OpenFile(j.segmentPath(j.fileIndex), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.fd = fd
	j.fileSize = 0
	return j.pruneLocked()
}

// pruneLocked deletes rotated segments older than the newest
// MaxSegments, called after rotation and again after each checkpoint
// advances the base address far enough to make them unnecessary for
// recovery.
func (j *Journal) pruneLocked() error {
	files, err := j.findSegments()
	if err != nil {
		return err
	}
	if len(files) <= MaxSegments {
		return nil
	}
	for _, f := range files[:len(files)-MaxSegments] {
		os.Remove(f)
	}
	return nil
}

// Prune removes segments, called by the checkpoint writer once a new
// checkpoint makes them provably unneeded for recovery.
func (j *Journal) Prune() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pruneLocked()
}

func (j *Journal) baseName() string {
	return filepath.Base(j.Path)
}

func (j *Journal) segmentPath(index int) string {
	return filepath.Join(filepath.Dir(j.Path), fmt.Sprintf("%s.%03d", j.baseName(), index))
}

func (j *Journal) findSegments() ([]string, error) {
	dir := filepath.Dir(j.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	pattern := j.baseName() + ".%d"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), pattern, &idx); err == nil {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(files, func(i, k int) bool {
		var a, b int
		fmt.Sscanf(filepath.Base(files[i]), pattern, &a)
		fmt.Sscanf(filepath.Base(files[k]), pattern, &b)
		return a < b
	})
	return files, nil
}

func (j *Journal) scanHighestLSN(files []string) (uint64, error) {
	var max uint64
	for _, f := range files {
		fd, err := os.Open(f)
		if err != nil {
			return 0, err
		}
		r := NewReader(fd)
		for {
			rec, err := r.Next()
			if rec == nil && err == nil {
				break
			}
			if rec != nil && rec.LSN > max {
				max = rec.LSN
			}
		}
		fd.Close()
	}
	return max, nil
}
