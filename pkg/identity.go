package store

// identity.go implements the process-wide 128-bit object identity described
// in spec.md section 4.1. A UUID is split into two 8-byte halves: the high
// half is a monotonically increasing creation ordinal (big-endian, so bytes
// sort in creation order), the low half is fixed per-process entropy drawn
// once at package init. The ordinal is incremented by 2 on every allocation,
// reserving the low bit to address the time-reversed mate of a snapshot
// without storing a second document.
//
// © msm-tis authors.

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// UUID is the 128-bit identity shared by every Storable.
type UUID [16]byte

// NilUUID is the zero value, used as the "no object" reference.
var NilUUID UUID

// String renders the UUID as a canonical 8-4-4-4-12 hex string.
func (u UUID) String() string {
	var b [36]byte
	hex.Encode(b[0:8], u[0:4])
	b[8] = '-'
	hex.Encode(b[9:13], u[4:6])
	b[13] = '-'
	hex.Encode(b[14:18], u[6:8])
	b[18] = '-'
	hex.Encode(b[19:23], u[8:10])
	b[23] = '-'
	hex.Encode(b[24:36], u[10:16])
	return string(b[:])
}

// IsNil reports whether u is the zero UUID.
func (u UUID) IsNil() bool { return u == NilUUID }

// ordinal returns the big-endian creation ordinal encoded in the high half.
func (u UUID) ordinal() uint64 { return binary.BigEndian.Uint64(u[0:8]) }

// Reversed returns the time-reversed mate of u: the same creation ordinal
// with the low bit flipped, per spec.md 4.1.
func (u UUID) Reversed() UUID {
	out := u
	out[7] ^= 1
	return out
}

// IsReversed reports whether u is itself a reversed mate (its ordinal's low
// bit is set).
func (u UUID) IsReversed() bool {
	return u[7]&1 == 1
}

// ParseUUID parses the canonical string form produced by String.
func ParseUUID(s string) (UUID, error) {
	var u UUID
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return u, fmt.Errorf("identity: malformed uuid %q", s)
	}
	segs := [5][2]int{{0, 8}, {9, 13}, {14, 18}, {19, 23}, {24, 36}}
	offsets := [5]int{0, 4, 6, 8, 10}
	for i, seg := range segs {
		b, err := hex.DecodeString(s[seg[0]:seg[1]])
		if err != nil {
			return UUID{}, fmt.Errorf("identity: malformed uuid %q: %w", s, err)
		}
		copy(u[offsets[i]:], b)
	}
	return u, nil
}

var processEntropy [8]byte

func init() {
	if _, err := rand.Read(processEntropy[:]); err != nil {
		// crypto/rand failing is fatal to identity uniqueness guarantees.
		panic("identity: unable to seed process entropy: " + err.Error())
	}
}

// counter is the process-wide monotonically increasing ordinal source.
var counter atomic.Uint64

// Next allocates and returns the next UUID. Safe for concurrent use; the
// increment is atomic so invariant (1) (strict monotonicity) holds across
// goroutines.
func Next() UUID {
	ord := counter.Add(2) - 2
	var u UUID
	binary.BigEndian.PutUint64(u[0:8], ord)
	copy(u[8:16], processEntropy[:])
	return u
}

// SeedCounter ratchets the process counter forward to at least hwm. It never
// moves the counter backward, so reopening a storage with a persisted
// high-water mark cannot collide with previously issued UUIDs.
func SeedCounter(hwm uint64) {
	for {
		cur := counter.Load()
		if cur >= hwm {
			return
		}
		if counter.CompareAndSwap(cur, hwm) {
			return
		}
	}
}

// HighWaterMark returns the current value of the process counter, suitable
// for persisting so a future reopen can call SeedCounter.
func HighWaterMark() uint64 {
	return counter.Load()
}
