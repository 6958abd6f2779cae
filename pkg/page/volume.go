package page

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const (
	volumeSignature = "PersistitVolume" // 15 bytes + trailing NUL = 16
	volumeIDSize     = 16               // 128-bit volume id
	headBodySize     = 16 + 4 + 8 + 8 + garbageStateSize + volumeIDSize + 8 + 8 + 8 + 8 + 8
)

// Volume owns a single backing file: its head page, a read-only mmap
// window over already-durable pages, and the garbage chain of
// reclaimable pages. It is the unit the buffer pool pins frames against.
type Volume struct {
	Path     string
	PageSize int

	// MaxPages caps how many pages the volume may ever hold (0 means
	// unbounded), the durable form of a volume spec's maximumPages.
	MaxPages uint64

	// VolumeID is a 128-bit identifier stamped into the head page at
	// Create and checked on Open by callers that must confirm they
	// reopened the same physical volume (WrongVolume detection).
	VolumeID [volumeIDSize]byte
	// CreatedAt is the volume's creation time, stamped once and never
	// rewritten afterward.
	CreatedAt time.Time

	// Fetches, Stores and Removes are cumulative page-operation counters
	// persisted in the head page, the volume's own usage statistics.
	Fetches uint64
	Stores  uint64
	Removes uint64

	// ReadOnly, once set, makes Allocate fail with ErrReadOnly, Put
	// panic with it, and Sync return without touching the backing
	// file. Not persisted
	// in the head page: it is a property of how the volume was opened,
	// not of the volume itself.
	ReadOnly bool

	// ExtensionBytes overrides the default 64MB mmap growth increment
	// when extending the volume's backing file, the durable form of a
	// volume spec's extensionPages. 0 keeps the default.
	ExtensionBytes int

	fd int

	mmapTotal  int
	mmapChunks [][]byte

	flushed uint64            // pages durably on disk, including the head page
	pending map[ID]Page       // pages allocated/written since the last Sync
	appended []Page           // newly appended pages awaiting Sync

	Garbage GarbageChain

	// TreeDirectory is the page ID of the root of the small B+Tree that
	// maps tree names to their root page IDs. 0 until first created.
	TreeDirectory ID
}

// Create initializes a brand-new volume file at path.
func Create(path string, pageSize int) (*Volume, error) {
	if !ValidPageSize(pageSize) {
		return nil, fmt.Errorf("page: invalid page size %d", pageSize)
	}
	fd, err := openSynced(path)
	if err != nil {
		return nil, err
	}
	v := &Volume{Path: path, PageSize: pageSize, fd: fd, flushed: 1, pending: map[ID]Page{}, CreatedAt: time.Now()}
	if _, err := rand.Read(v.VolumeID[:]); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("page: generate volume id: %w", err)
	}
	v.Garbage.Bind(pageSize, v.readPageForChain, v.appendPageForChain, v.Put)

	if err := v.writeHead(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := v.Sync(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return v, nil
}

// Open opens an existing volume file and loads its head page.
func Open(path string) (*Volume, error) {
	fd, err := openSynced(path)
	if err != nil {
		return nil, err
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("page: fstat: %w", err)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("page: %s is empty, use Create", path)
	}

	v := &Volume{Path: path, fd: fd, pending: map[ID]Page{}}
	mmapSize := 64 << 20
	if int(stat.Size) > mmapSize {
		mmapSize = int(stat.Size)
	}
	chunk, err := unix.Mmap(fd, 0, mmapSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("page: mmap: %w", err)
	}
	v.mmapTotal = mmapSize
	v.mmapChunks = [][]byte{chunk}

	if err := v.readHead(); err != nil {
		return nil, err
	}
	v.Garbage.Bind(v.PageSize, v.readPageForChain, v.appendPageForChain, v.Put)
	return v, nil
}

func openSynced(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return -1, fmt.Errorf("page: open %s: %w", path, err)
	}
	dirfd, err := unix.Open(filepath.Dir(path), unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("page: open dir: %w", err)
	}
	defer unix.Close(dirfd)
	if err := unix.Fsync(dirfd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("page: fsync dir: %w", err)
	}
	return fd, nil
}

// Close releases the volume's mmap and file descriptor.
func (v *Volume) Close() error {
	for _, c := range v.mmapChunks {
		if err := unix.Munmap(c); err != nil {
			return err
		}
	}
	return unix.Close(v.fd)
}

// ReadPage returns the current contents of a page: a pending in-memory
// write if present, an appended-but-not-yet-flushed page, or the
// durable contents via the mmap window. It reports ErrInvalidPageAddress
// for an id the volume never allocated and ErrCorruptPage when a
// durable page's checksum doesn't match its contents, rather than
// panicking: both are failures an engine can surface to its caller (or
// fence the volume on) instead of aborting the process.
func (v *Volume) ReadPage(id ID) (Page, error) {
	if p, ok := v.pending[id]; ok {
		v.Fetches++
		return p, nil
	}
	if id >= ID(v.flushed) {
		idx := uint64(id) - v.flushed
		if idx < uint64(len(v.appended)) {
			v.Fetches++
			return v.appended[idx], nil
		}
	}
	start := uint64(0)
	for _, chunk := range v.mmapChunks {
		end := start + uint64(len(chunk))/uint64(v.PageSize)
		if uint64(id) < end {
			off := uint64(v.PageSize) * (uint64(id) - start)
			page := Page(chunk[off : off+uint64(v.PageSize)])
			if !page.Verify() {
				return nil, fmt.Errorf("%w: page %d", ErrCorruptPage, id)
			}
			v.Fetches++
			return page, nil
		}
		start = end
	}
	return nil, fmt.Errorf("%w: page %d (flushed=%d appended=%d)", ErrInvalidPageAddress, id, v.flushed, len(v.appended))
}

// readPageForChain adapts ReadPage to the error-less callback signature
// GarbageChain.Bind expects. A failure reading a garbage-chain node is
// an internal structural defect, not a caller-facing documented
// failure, so it panics rather than threading an error through a
// vocabulary (Pop/Push) the chain's own callers don't expect to fail.
func (v *Volume) readPageForChain(id ID) Page {
	p, err := v.ReadPage(id)
	if err != nil {
		panic(err)
	}
	return p
}

func (v *Volume) appendPageForChain(body Page) ID {
	id, err := v.appendPage(body)
	if err != nil {
		panic(err)
	}
	return id
}

// Allocate returns a fresh page ID for the given content, preferring a
// page from the garbage chain over growing the volume. It fails with
// ErrVolumeFull once the volume has reached MaxPages (0 means
// unbounded) and the garbage chain has nothing left to recycle.
func (v *Volume) Allocate(body Page) (ID, error) {
	if v.ReadOnly {
		return 0, ErrReadOnly
	}
	if id := v.Garbage.Pop(); id != 0 {
		v.pending[id] = body
		return id, nil
	}
	return v.appendPage(body)
}

func (v *Volume) appendPage(body Page) (ID, error) {
	if len(body) != v.PageSize {
		panic("page: size mismatch")
	}
	id := ID(v.flushed) + ID(len(v.appended))
	if v.MaxPages > 0 && uint64(id) >= v.MaxPages {
		return 0, ErrVolumeFull
	}
	v.appended = append(v.appended, body)
	return id, nil
}

// Put stages a page overwrite in memory; it becomes durable on the next
// Sync. The buffer pool calls this when it writes back a dirty frame,
// and the garbage chain calls it when rewriting a chain node in place.
func (v *Volume) Put(id ID, body Page) {
	if v.ReadOnly {
		panic(ErrReadOnly)
	}
	if len(body) != v.PageSize {
		panic("page: size mismatch")
	}
	v.pending[id] = body
	v.Stores++
}

// Free returns a previously allocated page to the garbage chain. Pages
// not yet flushed are dropped outright since nothing durable points at
// them yet.
func (v *Volume) Free(id ID) {
	if id < ID(v.flushed) {
		v.Garbage.Push(id)
		v.Removes++
	}
}

// Sync durably writes every pending and appended page, then the head
// page, each phase separated by an fsync, mirroring the volume's
// two-phase commit: pages first, metadata only once they are durable.
// On a ReadOnly volume it writes nothing.
func (v *Volume) Sync() error {
	if v.ReadOnly {
		return nil
	}
	for id, body := range v.pending {
		body.Stamp()
		if _, err := unix.Pwrite(v.fd, body, int64(uint64(id)*uint64(v.PageSize))); err != nil {
			return fmt.Errorf("page: pwrite: %w", err)
		}
	}
	v.pending = map[ID]Page{}

	if len(v.appended) > 0 {
		size := int(v.flushed+uint64(len(v.appended))) * v.PageSize
		if err := v.extend(size); err != nil {
			return err
		}
		off := int64(v.flushed) * int64(v.PageSize)
		for _, body := range v.appended {
			body.Stamp()
			if _, err := unix.Pwrite(v.fd, body, off); err != nil {
				return fmt.Errorf("page: pwrite: %w", err)
			}
			off += int64(v.PageSize)
		}
		v.flushed += uint64(len(v.appended))
		v.appended = v.appended[:0]
	}

	if err := unix.Fsync(v.fd); err != nil {
		return fmt.Errorf("page: fsync: %w", err)
	}

	if err := v.writeHead(); err != nil {
		return err
	}
	return unix.Fsync(v.fd)
}

// Preallocate reserves disk space for n pages (beyond the head page) up
// front, via fallocate, so early growth doesn't pay for file extension
// one Sync at a time. It does not assign page IDs; Allocate still hands
// out pages from the garbage chain or the end of the file as before.
func (v *Volume) Preallocate(n uint64) error {
	size := int64((n + 1)) * int64(v.PageSize)
	return unix.Fallocate(v.fd, 0, 0, size)
}

func (v *Volume) extend(size int) error {
	if size <= v.mmapTotal {
		return nil
	}
	minAlloc := 64 << 20
	if v.ExtensionBytes > 0 {
		minAlloc = v.ExtensionBytes
	}
	alloc := v.mmapTotal
	if alloc < minAlloc {
		alloc = minAlloc
	}
	for v.mmapTotal+alloc < size {
		alloc *= 2
	}
	chunk, err := unix.Mmap(v.fd, int64(v.mmapTotal), alloc, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("page: mmap extend: %w", err)
	}
	v.mmapTotal += alloc
	v.mmapChunks = append(v.mmapChunks, chunk)
	return nil
}

func (v *Volume) writeHead() error {
	body := NewPage(v.PageSize)
	b := body.Body()
	copy(b[0:16], []byte(volumeSignature+"\x00"))
	binary.LittleEndian.PutUint32(b[16:20], uint32(v.PageSize))
	binary.LittleEndian.PutUint64(b[20:28], v.flushed)
	binary.LittleEndian.PutUint64(b[28:36], uint64(v.TreeDirectory))
	copy(b[36:36+garbageStateSize], v.Garbage.Marshal())
	off := 36 + garbageStateSize
	copy(b[off:off+volumeIDSize], v.VolumeID[:])
	off += volumeIDSize
	binary.LittleEndian.PutUint64(b[off:off+8], uint64(v.CreatedAt.UnixNano()))
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], v.MaxPages)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], v.Fetches)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], v.Stores)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], v.Removes)
	body.Stamp()
	_, err := unix.Pwrite(v.fd, body, 0)
	return err
}

func (v *Volume) readHead() error {
	body := Page(v.mmapChunks[0][:v.headPageSizeGuess()])
	sig := string(body.Body()[0:15])
	if sig != volumeSignature {
		// page size unknown yet; fall back to scanning the first 4K,
		// which bounds every valid page size from below.
		return fmt.Errorf("page: bad volume signature %q", sig)
	}
	v.PageSize = int(binary.LittleEndian.Uint32(body.Body()[16:20]))
	body = Page(v.mmapChunks[0][:v.PageSize])
	if !body.Verify() {
		return fmt.Errorf("page: head page checksum mismatch")
	}
	v.flushed = binary.LittleEndian.Uint64(body.Body()[20:28])
	v.TreeDirectory = ID(binary.LittleEndian.Uint64(body.Body()[28:36]))
	v.Garbage.Unmarshal(body.Body()[36 : 36+garbageStateSize])

	off := 36 + garbageStateSize
	b := body.Body()
	copy(v.VolumeID[:], b[off:off+volumeIDSize])
	off += volumeIDSize
	v.CreatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(b[off:off+8])))
	off += 8
	v.MaxPages = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	v.Fetches = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	v.Stores = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	v.Removes = binary.LittleEndian.Uint64(b[off : off+8])
	return nil
}

func (v *Volume) headPageSizeGuess() int {
	if len(v.mmapChunks[0]) < MinPageSize {
		return len(v.mmapChunks[0])
	}
	return MinPageSize
}
