package journal

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// RecordType identifies a journal record's payload shape. The set is a
// direct descendant of the write-ahead log's OpType, broadened from
// "key/value changed" to "page image changed" plus the bookkeeping
// records a page-oriented engine needs to recover without replaying
// from the beginning of time.
type RecordType byte

const (
	RecJournalHeader    RecordType = 1 // JH: written once, first record of a journal file
	RecPageImage        RecordType = 2 // PA: before/after image of one modified page
	RecTxStart          RecordType = 3 // TS: transaction began
	RecTxCommit         RecordType = 4 // TC: transaction committed
	RecTxRollback       RecordType = 5 // TR: transaction rolled back
	RecCheckpointStart  RecordType = 6 // CU: checkpoint boundary, carries the new base address
	RecPageMap          RecordType = 7 // PM: one (volume,page)->journal address entry live at a checkpoint
	RecTransactionMap   RecordType = 8 // TM: one transaction still active at a checkpoint
	RecDeadTransaction   RecordType = 9  // DT: a transaction recovery must treat as aborted
	RecTreeRemove        RecordType = 10 // TD: a named tree was dropped
)

// recordHeaderSize: LSN(8) Type(1) Reserved(7) PayloadLen(4) = 20
const recordHeaderSize = 20

// Record is one journal entry: a typed, checksummed payload tagged
// with its address (LSN) in the journal's logical byte stream.
type Record struct {
	LSN     uint64
	Type    RecordType
	Payload []byte
}

// Encode serializes the record with a trailing CRC32, mirroring the
// write-ahead log's [header][payload][crc32] framing.
func (r *Record) Encode() []byte {
	total := recordHeaderSize + len(r.Payload) + 4
	buf := make([]byte, total)

	binary.LittleEndian.PutUint64(buf[0:8], r.LSN)
	buf[8] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(r.Payload)))
	copy(buf[recordHeaderSize:], r.Payload)

	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+len(r.Payload):], crc)
	return buf
}

// DecodeRecord parses a record previously produced by Encode,
// rejecting anything whose checksum doesn't match.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < recordHeaderSize+4 {
		return nil, ErrTruncated
	}
	payloadLen := binary.LittleEndian.Uint32(data[16:20])
	expected := recordHeaderSize + int(payloadLen) + 4
	if len(data) < expected {
		return nil, ErrTruncated
	}

	body := data[:recordHeaderSize+int(payloadLen)]
	storedCRC := binary.LittleEndian.Uint32(data[recordHeaderSize+int(payloadLen):])
	if crc32.ChecksumIEEE(body) != storedCRC {
		return nil, ErrCorrupted
	}

	r := &Record{
		LSN:  binary.LittleEndian.Uint64(data[0:8]),
		Type: RecordType(data[8]),
	}
	if payloadLen > 0 {
		r.Payload = append([]byte(nil), data[recordHeaderSize:recordHeaderSize+int(payloadLen)]...)
	}
	return r, nil
}

// Size returns the record's encoded byte length.
func (r *Record) Size() int {
	return recordHeaderSize + len(r.Payload) + 4
}

// PageImagePayload is the PA record body: the full after-image of one
// page, tagged by the volume it belongs to so a journal shared across
// volumes can still be replayed unambiguously.
type PageImagePayload struct {
	VolumeID uint64
	PageID   uint64
	TxnID    uint64
	Body     []byte
}

func EncodePageImage(p PageImagePayload) []byte {
	buf := make([]byte, 24+len(p.Body))
	binary.LittleEndian.PutUint64(buf[0:8], p.VolumeID)
	binary.LittleEndian.PutUint64(buf[8:16], p.PageID)
	binary.LittleEndian.PutUint64(buf[16:24], p.TxnID)
	copy(buf[24:], p.Body)
	return buf
}

func DecodePageImage(buf []byte) PageImagePayload {
	return PageImagePayload{
		VolumeID: binary.LittleEndian.Uint64(buf[0:8]),
		PageID:   binary.LittleEndian.Uint64(buf[8:16]),
		TxnID:    binary.LittleEndian.Uint64(buf[16:24]),
		Body:     append([]byte(nil), buf[24:]...),
	}
}

// EncodeTxnID encodes the payload for a bare TS/TR record: just the
// transaction id, with no further bookkeeping.
func EncodeTxnID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

func DecodeTxnID(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

// TxCommitPayload is the TC record body.
type TxCommitPayload struct {
	TxnID    uint64
	CommitTS uint64
}

func EncodeTxCommit(p TxCommitPayload) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.TxnID)
	binary.LittleEndian.PutUint64(buf[8:16], p.CommitTS)
	return buf
}

func DecodeTxCommit(buf []byte) TxCommitPayload {
	return TxCommitPayload{
		TxnID:    binary.LittleEndian.Uint64(buf[0:8]),
		CommitTS: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// CheckpointStartPayload (CU) carries the address recovery can safely
// start scanning from, and the wall-clock time the checkpoint began.
type CheckpointStartPayload struct {
	BaseAddress uint64
	Timestamp   int64
}

func EncodeCheckpointStart(p CheckpointStartPayload) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.BaseAddress)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.Timestamp))
	return buf
}

func DecodeCheckpointStart(buf []byte) CheckpointStartPayload {
	return CheckpointStartPayload{
		BaseAddress: binary.LittleEndian.Uint64(buf[0:8]),
		Timestamp:   int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// PageMapPayload (PM) records, as of a checkpoint, the most recent
// journal address holding the authoritative image of one page.
type PageMapPayload struct {
	VolumeID       uint64
	PageID         uint64
	JournalAddress uint64
}

func EncodePageMap(p PageMapPayload) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], p.VolumeID)
	binary.LittleEndian.PutUint64(buf[8:16], p.PageID)
	binary.LittleEndian.PutUint64(buf[16:24], p.JournalAddress)
	return buf
}

func DecodePageMap(buf []byte) PageMapPayload {
	return PageMapPayload{
		VolumeID:       binary.LittleEndian.Uint64(buf[0:8]),
		PageID:         binary.LittleEndian.Uint64(buf[8:16]),
		JournalAddress: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// TransactionMapPayload (TM) records one transaction still active
// when a checkpoint was taken.
type TransactionMapPayload struct {
	TxnID   uint64
	StartTS uint64
}

func EncodeTransactionMap(p TransactionMapPayload) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.TxnID)
	binary.LittleEndian.PutUint64(buf[8:16], p.StartTS)
	return buf
}

func DecodeTransactionMap(buf []byte) TransactionMapPayload {
	return TransactionMapPayload{
		TxnID:   binary.LittleEndian.Uint64(buf[0:8]),
		StartTS: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// TreeRemovePayload (TD) records that treeName within a volume was
// dropped in its entirety, distinct from RecDeadTransaction's reuse of
// a similar letter for an unrelated concept (dead transactions).
type TreeRemovePayload struct {
	VolumeID uint64
	TreeName string
}

func EncodeTreeRemove(p TreeRemovePayload) []byte {
	buf := make([]byte, 8+4+len(p.TreeName))
	binary.LittleEndian.PutUint64(buf[0:8], p.VolumeID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(p.TreeName)))
	copy(buf[12:], p.TreeName)
	return buf
}

func DecodeTreeRemove(buf []byte) TreeRemovePayload {
	n := binary.LittleEndian.Uint32(buf[8:12])
	return TreeRemovePayload{
		VolumeID: binary.LittleEndian.Uint64(buf[0:8]),
		TreeName: string(buf[12 : 12+n]),
	}
}
