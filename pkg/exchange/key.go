// Package exchange implements Key, KeyFilter, and the cursor-based
// Exchange API that sits on top of a btree.BTree, the way the teacher's
// storage package layers composite-key encoding and range queries over
// its tree. Segment encoding here is order-preserving and typed, built
// the teacher's way (a type tag per segment, big-endian sign-flipped
// numerics) but with the escape convention the specification requires:
// a literal 0x00 byte inside a string segment is escaped as 0x01 0x00
// rather than the teacher's 0xFE-prefixed scheme. Bytes and decimal
// segments end in a terminator byte and the numeric, time and bool
// segments are fixed-width, so Key construction stays append-only and
// prefix-comparable.
package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Segment type tags.
const (
	typeBytes   = 1
	typeInt64   = 2
	typeUint64  = 3
	typeTime    = 4
	typeFloat64 = 5
	typeBool    = 6
	typeDecimal = 7
)

// MaxKeyLength bounds a Key's total encoded length; Append fails
// ErrKeyTooLong past it. It is a Key-layer bound, separate from the
// B+-tree's own smaller key size limit, so a Key within MaxKeyLength
// can still be rejected when it is stored.
const MaxKeyLength = 4096

// ErrKeyTooLong is returned by Append when the segments given would
// encode to a Key longer than MaxKeyLength.
var ErrKeyTooLong = errors.New("exchange: key too long")

// Segment is one typed component of a composite Key.
type Segment struct {
	kind uint8
	str  []byte
	i64  int64
	u64  uint64
	f64  float64
	b    bool
	dec  decimal.Decimal
	t    time.Time
}

func Bytes(b []byte) Segment             { return Segment{kind: typeBytes, str: b} }
func String(s string) Segment            { return Segment{kind: typeBytes, str: []byte(s)} }
func Int64(i int64) Segment              { return Segment{kind: typeInt64, i64: i} }
func Uint64(u uint64) Segment            { return Segment{kind: typeUint64, u64: u} }
func Time(t time.Time) Segment           { return Segment{kind: typeTime, t: t} }
func Float64(f float64) Segment          { return Segment{kind: typeFloat64, f64: f} }
func Bool(b bool) Segment                { return Segment{kind: typeBool, b: b} }
func Decimal(d decimal.Decimal) Segment  { return Segment{kind: typeDecimal, dec: d} }

// Key is an order-preserving encoding of a sequence of Segments: two
// Keys compare byte-for-byte the same way their segment sequences
// compare lexicographically, segment by segment.
type Key []byte

// BeforeKey and AfterKey bound every possible real Key from below and
// above, used to seed a traversal that should visit "everything".
var (
	BeforeKey = Key{}
	AfterKey  = Key{0xFF}
)

// Append builds a Key out of Segments, failing ErrKeyTooLong when the
// encoding would be longer than MaxKeyLength.
func Append(segments ...Segment) (Key, error) {
	out := make([]byte, 0, 16*len(segments))
	for _, s := range segments {
		out = append(out, s.kind)
		switch s.kind {
		case typeInt64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(s.i64)+(1<<63))
			out = append(out, buf[:]...)
		case typeUint64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], s.u64)
			out = append(out, buf[:]...)
		case typeTime:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(s.t.UnixNano())+(1<<63))
			out = append(out, buf[:]...)
		case typeBytes:
			out = append(out, escape(s.str)...)
			out = append(out, 0x00)
		case typeFloat64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], floatBits(s.f64))
			out = append(out, buf[:]...)
		case typeBool:
			if s.b {
				out = append(out, 0x01)
			} else {
				out = append(out, 0x00)
			}
		case typeDecimal:
			out = append(out, encodeDecimal(s.dec)...)
		default:
			panic(fmt.Sprintf("exchange: unknown segment kind %d", s.kind))
		}
	}
	if len(out) > MaxKeyLength {
		return nil, ErrKeyTooLong
	}
	return Key(out), nil
}

// floatBits maps a float64 onto a uint64 whose unsigned ordering
// matches the float's own ordering: negatives get their bits flipped,
// non-negatives get their sign bit set, so -Inf sorts lowest and +Inf
// sorts highest when compared as plain big-endian bytes.
func floatBits(f float64) uint64 {
	b := math.Float64bits(f)
	if b>>63 == 1 {
		return ^b
	}
	return b | (1 << 63)
}

func floatFromBits(b uint64) float64 {
	if b>>63 == 1 {
		return math.Float64frombits(b &^ (1 << 63))
	}
	return math.Float64frombits(^b)
}

// encodeDecimal writes a sign byte (negative < zero < positive)
// followed, for non-zero values, by a big-endian sign-flipped adjusted
// exponent and the decimal's significant digits as ASCII, terminated
// by 0x00 (0xFF for negatives, whose digit and exponent bytes are
// bitwise complemented so magnitude order reverses within the bucket).
// The coefficient is normalized by stripping trailing zero digits
// first, so 1.50 and 1.5 always encode identically.
func encodeDecimal(d decimal.Decimal) []byte {
	coeff, exp := normalizeDecimal(d)
	sign := coeff.Sign()
	if sign == 0 {
		return []byte{1}
	}
	abs := new(big.Int).Abs(coeff)
	digits := abs.String()
	adjExp := exp + int32(len(digits)) - 1

	var expBuf [4]byte
	binary.BigEndian.PutUint32(expBuf[:], uint32(adjExp)+(1<<31))

	if sign > 0 {
		out := make([]byte, 0, 1+4+len(digits)+1)
		out = append(out, 2)
		out = append(out, expBuf[:]...)
		out = append(out, digits...)
		out = append(out, 0x00)
		return out
	}

	out := make([]byte, 0, 1+4+len(digits)+1)
	out = append(out, 0)
	for _, b := range expBuf {
		out = append(out, ^b)
	}
	for i := 0; i < len(digits); i++ {
		out = append(out, ^digits[i])
	}
	out = append(out, 0xFF)
	return out
}

// normalizeDecimal strips trailing zero digits from d's coefficient,
// incrementing the exponent to compensate, so that numerically equal
// decimals with different internal scales produce the same (coeff,
// exponent) pair.
func normalizeDecimal(d decimal.Decimal) (*big.Int, int32) {
	coeff := new(big.Int).Set(d.Coefficient())
	exp := d.Exponent()
	if coeff.Sign() == 0 {
		return coeff, 0
	}
	neg := coeff.Sign() < 0
	abs := new(big.Int).Abs(coeff)
	ten := big.NewInt(10)
	mod := new(big.Int)
	for abs.Sign() != 0 {
		mod.Mod(abs, ten)
		if mod.Sign() != 0 {
			break
		}
		abs.Div(abs, ten)
		exp++
	}
	if neg {
		abs.Neg(abs)
	}
	return abs, exp
}

func decodeDecimal(data []byte, pos int) (decimal.Decimal, int, error) {
	if pos >= len(data) {
		return decimal.Decimal{}, pos, fmt.Errorf("exchange: truncated decimal segment")
	}
	sign := data[pos]
	pos++
	if sign == 1 {
		return decimal.NewFromInt(0), pos, nil
	}
	if pos+4 > len(data) {
		return decimal.Decimal{}, pos, fmt.Errorf("exchange: truncated decimal segment")
	}
	if sign == 2 {
		adjExp := int32(binary.BigEndian.Uint32(data[pos:pos+4]) - (1 << 31))
		pos += 4
		end := pos
		for end < len(data) && data[end] != 0x00 {
			end++
		}
		if end >= len(data) {
			return decimal.Decimal{}, pos, fmt.Errorf("exchange: unterminated decimal segment")
		}
		digits := string(data[pos:end])
		coeff, ok := new(big.Int).SetString(digits, 10)
		if !ok {
			return decimal.Decimal{}, pos, fmt.Errorf("exchange: malformed decimal digits")
		}
		exp := adjExp - int32(len(digits)) + 1
		return decimal.NewFromBigInt(coeff, exp), end + 1, nil
	}

	// sign == 0: negative, exponent and digit bytes are complemented
	// and terminated by 0xFF.
	var expBuf [4]byte
	for i := 0; i < 4; i++ {
		expBuf[i] = ^data[pos+i]
	}
	adjExp := int32(binary.BigEndian.Uint32(expBuf[:]) - (1 << 31))
	pos += 4
	end := pos
	for end < len(data) && data[end] != 0xFF {
		end++
	}
	if end >= len(data) {
		return decimal.Decimal{}, pos, fmt.Errorf("exchange: unterminated decimal segment")
	}
	digits := make([]byte, end-pos)
	for i := pos; i < end; i++ {
		digits[i-pos] = ^data[i]
	}
	coeff, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return decimal.Decimal{}, pos, fmt.Errorf("exchange: malformed decimal digits")
	}
	coeff.Neg(coeff)
	exp := adjExp - int32(len(digits)) + 1
	return decimal.NewFromBigInt(coeff, exp), end + 1, nil
}

// escape rewrites every literal 0x00 byte in s as the two-byte
// sequence 0x01 0x00, and every literal 0x01 as 0x01 0x01, so the
// terminator byte (a bare 0x00) can never appear inside the payload.
func escape(s []byte) []byte {
	n := 0
	for _, b := range s {
		if b == 0x00 || b == 0x01 {
			n++
		}
	}
	if n == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+n)
	for _, b := range s {
		if b == 0x00 {
			out = append(out, 0x01, 0x00)
		} else if b == 0x01 {
			out = append(out, 0x01, 0x01)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// Segments decodes a Key back into its component Segments.
func Segments(key Key) ([]Segment, error) {
	var out []Segment
	data := []byte(key)
	pos := 0
	for pos < len(data) {
		kind := data[pos]
		pos++
		switch kind {
		case typeInt64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("exchange: truncated int64 segment")
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			out = append(out, Int64(int64(u-(1<<63))))
			pos += 8
		case typeUint64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("exchange: truncated uint64 segment")
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			out = append(out, Uint64(u))
			pos += 8
		case typeTime:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("exchange: truncated time segment")
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			out = append(out, Time(time.Unix(0, int64(u-(1<<63)))))
			pos += 8
		case typeBytes:
			end := pos
			for end < len(data) {
				if data[end] == 0x01 && end+1 < len(data) {
					end += 2
					continue
				}
				if data[end] == 0x00 {
					break
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("exchange: unterminated bytes segment")
			}
			out = append(out, Bytes(unescape(data[pos:end])))
			pos = end + 1
		case typeFloat64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("exchange: truncated float64 segment")
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			out = append(out, Float64(floatFromBits(u)))
			pos += 8
		case typeBool:
			if pos+1 > len(data) {
				return nil, fmt.Errorf("exchange: truncated bool segment")
			}
			out = append(out, Bool(data[pos] != 0))
			pos++
		case typeDecimal:
			d, next, err := decodeDecimal(data, pos)
			if err != nil {
				return nil, err
			}
			out = append(out, Decimal(d))
			pos = next
		default:
			return nil, fmt.Errorf("exchange: unknown segment kind %d at offset %d", kind, pos-1)
		}
	}
	return out, nil
}
