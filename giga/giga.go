// Package giga implements the per-directory partitioning index: a growing
// bitmap over partition ids that maps any entry name to a partition and,
// modulo the directory's zeroth-server offset, to a server.
//
// The bitmap layout is protocol-critical and preserved bit-exact from the
// historical implementation: each byte stores 7 usable bits (the high bit is
// unused), index i lives at byte i/7 bit i%7, and partition indexes are
// derived from the bit-reversed bytes of the name hash.
package giga

import (
	"encoding/binary"
	"math/bits"

	"github.com/indexfs/indexfs/proto"
	"github.com/indexfs/indexfs/util"
	"github.com/spaolacci/murmur3"
)

const (
	MaxRadix = 8
	MinRadix = 0

	// HashLen is the number of name-hash bytes carried in store keys.
	HashLen = 8

	// BitsPerByte keeps the sign-safe 7-bit packing of the legacy bitmap.
	BitsPerByte = 7

	MaxPartitions = 1 << MaxRadix

	MaxBitmapLen = (MaxPartitions + BitsPerByte - 1) / BitsPerByte
)

// SplitPolicy bounds partition growth.
type SplitPolicy int

const (
	// SplitNumServersBound splits while the child index stays below
	// MaxPartitionsPerServer * server_count. This is the default policy.
	SplitNumServersBound SplitPolicy = iota
	// SplitNoBound always allows splitting, up to the radix limit.
	SplitNoBound
	// SplitNever freezes the bitmap at its preset radix.
	SplitNever
)

// DefaultPartitionsPerServer bounds SplitNumServersBound growth.
const DefaultPartitionsPerServer = 1

// Mapping is one directory's partition index. All methods that mutate or
// read the bitmap expect the caller to hold the directory mutex.
type Mapping struct {
	ID           uint32
	CurrRadix    uint32
	ZerothServer uint32
	ServerCount  uint32
	Bitmap       [MaxBitmapLen]byte
}

// NewMapping returns a mapping with only the zeroth partition present.
func NewMapping(id uint32, zerothServer, serverCount uint32) *Mapping {
	if serverCount == 0 {
		serverCount = 1
	}
	m := &Mapping{
		ID:           id,
		CurrRadix:    1,
		ZerothServer: zerothServer,
		ServerCount:  serverCount,
	}
	m.Bitmap[0] = 1
	return m
}

// HashName returns the first HashLen bytes of MurmurHash3_x64_128 with seed
// 0 over the entry name. Any divergence here breaks cross-version
// compatibility.
func HashName(name string) [HashLen]byte {
	h1, _ := murmur3.Sum128(util.StringsToBytes(name))
	var out [HashLen]byte
	binary.LittleEndian.PutUint64(out[:], h1)
	return out
}

// reverseBits reverses the low n bits of b, e.g. reverseBits(0b110, 3) = 0b011.
func reverseBits(b uint8, n uint) uint8 {
	if n == 0 {
		return 0
	}
	return bits.Reverse8(b) >> (8 - n)
}

// computeIndex forms a partition index from the low radix bits of the hash,
// reading each hash byte in bit-reversed order.
func computeIndex(hash []byte, radix int) int {
	index := 0
	full := radix / 8
	for i := 0; i < full; i++ {
		index += int(bits.Reverse8(hash[i])) << (i * 8)
	}
	if rem := radix % 8; rem > 0 {
		b := int(bits.Reverse8(hash[full]))
		index += (b & ((1 << rem) - 1)) << (full * 8)
	}
	return index
}

// radixOf returns the number of bits needed to address index: 0 for index 0,
// 1 for index 1, floor(log2(index))+1 otherwise.
func radixOf(index int) int {
	return bits.Len(uint(index))
}

// parentOf clears the highest set bit, walking one level up the split tree.
func parentOf(index int) int {
	if index <= 0 {
		return 0
	}
	return index - 1<<(bits.Len(uint(index))-1)
}

// ReverseBits exposes the bit-reversal used for readdir partition ordering:
// clients enumerate set partitions by reversing an n-bit counter.
func ReverseBits(b uint8, n uint) uint8 {
	return reverseBits(b, n)
}

// Bit reports whether partition index is present.
func (m *Mapping) Bit(index int) bool {
	return m.Bitmap[index/BitsPerByte]&(1<<(index%BitsPerByte)) != 0
}

func (m *Mapping) setBit(index int) {
	m.Bitmap[index/BitsPerByte] |= 1 << (index % BitsPerByte)
}

func (m *Mapping) clearBit(index int) {
	m.Bitmap[index/BitsPerByte] &^= 1 << (index % BitsPerByte)
}

// Radix recomputes the current radix from the highest set bit.
func (m *Mapping) Radix() int {
	for i := MaxBitmapLen - 1; i >= 0; i-- {
		if m.Bitmap[i] == 0 {
			continue
		}
		for j := BitsPerByte - 1; j >= 0; j-- {
			if m.Bitmap[i]&(1<<j) != 0 {
				return radixOf(i*BitsPerByte + j)
			}
		}
	}
	return MinRadix
}

func (m *Mapping) refreshRadix() {
	m.CurrRadix = uint32(m.Radix())
}

// IndexForHash maps a precomputed name hash to its owning partition: the
// candidate index for the current radix, walked up the split tree until a
// set bit is found. Bit 0 is always set, so the walk terminates.
func (m *Mapping) IndexForHash(hash []byte) int {
	index := computeIndex(hash, m.Radix())
	for !m.Bit(index) {
		index = parentOf(index)
	}
	return index
}

// IndexForName maps an entry name to its owning partition.
func (m *Mapping) IndexForName(name string) int {
	hash := HashName(name)
	return m.IndexForHash(hash[:])
}

// ServerForIndex maps a partition index to the server owning it.
func (m *Mapping) ServerForIndex(index int) proto.ServerID {
	return proto.ServerID((uint32(index) + m.ZerothServer) % m.ServerCount)
}

// ServerForName is ServerForIndex composed over IndexForName.
func (m *Mapping) ServerForName(name string) proto.ServerID {
	return m.ServerForIndex(m.IndexForName(name))
}

// ChildIndex returns the partition created by splitting index: the smallest
// child index whose bit is still clear. ok is false once the radix limit
// leaves no room for another child.
func (m *Mapping) ChildIndex(index int) (child int, ok bool) {
	for r := radixOf(index); r < MaxRadix; r++ {
		child = index + 1<<r
		if child < MaxPartitions && !m.Bit(child) {
			return child, true
		}
	}
	return 0, false
}

// Splittable applies the split policy to an overflowing partition.
func (m *Mapping) Splittable(policy SplitPolicy, perServer int, index int) bool {
	switch policy {
	case SplitNoBound:
		_, ok := m.ChildIndex(index)
		return ok
	case SplitNever:
		return false
	case SplitNumServersBound:
		child, ok := m.ChildIndex(index)
		if !ok {
			return false
		}
		if perServer <= 0 {
			perServer = DefaultPartitionsPerServer
		}
		return child < perServer*int(m.ServerCount)
	}
	return false
}

// MigratesTo reports whether an entry with the given hash, currently stored
// in the parent of child, moves into child after the split.
func MigratesTo(hash []byte, child int) bool {
	return computeIndex(hash, radixOf(child)) == child
}

// MarkSplitDone records a committed split by setting the child bit.
func (m *Mapping) MarkSplitDone(child int) {
	m.setBit(child)
	m.refreshRadix()
}

// RemoveIndex clears a partition bit. Only abort paths use this.
func (m *Mapping) RemoveIndex(index int) {
	m.clearBit(index)
	m.refreshRadix()
}

// Merge folds another view of the same directory into this one: bitwise OR
// of the bitmaps, maximum of the server counts. Bits are never cleared, so
// every server's view of the mapping is monotonic.
func (m *Mapping) Merge(other *Mapping) {
	for i := range m.Bitmap {
		m.Bitmap[i] |= other.Bitmap[i]
	}
	if other.ServerCount > m.ServerCount {
		m.ServerCount = other.ServerCount
	}
	m.refreshRadix()
}

// Clone returns an independent copy, safe to hand out once the directory
// mutex is dropped.
func (m *Mapping) Clone() *Mapping {
	c := *m
	return &c
}

const encodedLen = 16 + MaxBitmapLen

// Serialize renders the fixed-size storage layout:
// id | radix | zeroth_server | server_count (u32 LE each) | bitmap.
func (m *Mapping) Serialize() []byte {
	buf := make([]byte, encodedLen)
	binary.LittleEndian.PutUint32(buf[0:], m.ID)
	binary.LittleEndian.PutUint32(buf[4:], m.CurrRadix)
	binary.LittleEndian.PutUint32(buf[8:], m.ZerothServer)
	binary.LittleEndian.PutUint32(buf[12:], m.ServerCount)
	copy(buf[16:], m.Bitmap[:])
	return buf
}

// Deserialize parses the Serialize layout.
func Deserialize(data []byte) (*Mapping, bool) {
	if len(data) < encodedLen {
		return nil, false
	}
	m := &Mapping{
		ID:           binary.LittleEndian.Uint32(data[0:]),
		CurrRadix:    binary.LittleEndian.Uint32(data[4:]),
		ZerothServer: binary.LittleEndian.Uint32(data[8:]),
		ServerCount:  binary.LittleEndian.Uint32(data[12:]),
	}
	copy(m.Bitmap[:], data[16:16+MaxBitmapLen])
	if m.ServerCount == 0 || !m.Bit(0) {
		return nil, false
	}
	return m, true
}

// ToWire converts to the RPC representation.
func (m *Mapping) ToWire() *proto.GigaBitmap {
	bm := make([]byte, MaxBitmapLen)
	copy(bm, m.Bitmap[:])
	return &proto.GigaBitmap{
		ID:           m.ID,
		Bitmap:       bm,
		CurrRadix:    m.CurrRadix,
		ZerothServer: m.ZerothServer,
		NumServers:   m.ServerCount,
	}
}

// FromWire converts the RPC representation back into a mapping.
func FromWire(bm *proto.GigaBitmap) *Mapping {
	m := &Mapping{
		ID:           bm.ID,
		CurrRadix:    bm.CurrRadix,
		ZerothServer: bm.ZerothServer,
		ServerCount:  bm.NumServers,
	}
	if m.ServerCount == 0 {
		m.ServerCount = 1
	}
	copy(m.Bitmap[:], bm.Bitmap)
	m.refreshRadix()
	return m
}
