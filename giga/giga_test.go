package giga

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hashWithFirstByte(b byte) []byte {
	h := make([]byte, HashLen)
	h[0] = b
	return h
}

func TestNewMapping(t *testing.T) {
	m := NewMapping(7, 1, 4)
	require.True(t, m.Bit(0))
	require.Equal(t, uint32(1), m.CurrRadix)
	require.Equal(t, uint32(4), m.ServerCount)

	// a zero server count falls back to a single-server layout
	m = NewMapping(7, 0, 0)
	require.Equal(t, uint32(1), m.ServerCount)
}

func TestIndexForHashBitReversal(t *testing.T) {
	m := NewMapping(1, 0, 2)
	m.MarkSplitDone(1)

	// radix 1 reads one reversed bit: 0x80 reverses to 0x01
	require.Equal(t, 1, m.IndexForHash(hashWithFirstByte(0x80)))
	require.Equal(t, 0, m.IndexForHash(hashWithFirstByte(0x00)))

	// radix 2: 0x40 reverses to 0b10 = partition 2
	m.MarkSplitDone(2)
	require.Equal(t, uint32(2), m.CurrRadix)
	require.Equal(t, 2, m.IndexForHash(hashWithFirstByte(0x40)))

	// 0xC0 reverses to partition 3, whose bit is clear, so the walk
	// falls back to its parent partition 1
	require.Equal(t, 1, m.IndexForHash(hashWithFirstByte(0xC0)))

	m.MarkSplitDone(3)
	require.Equal(t, 3, m.IndexForHash(hashWithFirstByte(0xC0)))
}

func TestIndexAlwaysOnSetBit(t *testing.T) {
	m := NewMapping(1, 0, 4)
	m.MarkSplitDone(1)
	m.MarkSplitDone(2)
	for b := 0; b < 256; b++ {
		idx := m.IndexForHash(hashWithFirstByte(byte(b)))
		require.True(t, m.Bit(idx), "hash byte %#x routed to unset bit %d", b, idx)
	}
}

func TestHashNameDeterminism(t *testing.T) {
	h1 := HashName("test")
	h2 := HashName("test")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, HashName("Test"))

	m := NewMapping(1, 0, 2)
	m.MarkSplitDone(1)
	h := HashName("test")
	require.Equal(t, m.IndexForHash(h[:]), m.IndexForName("test"))
}

func TestServerForIndex(t *testing.T) {
	m := NewMapping(9, 3, 4)
	require.Equal(t, uint32(3), m.ServerForIndex(0))
	require.Equal(t, uint32(0), m.ServerForIndex(1))
	require.Equal(t, uint32(3), m.ServerForIndex(4))
}

func TestChildIndex(t *testing.T) {
	m := NewMapping(1, 0, 8)

	child, ok := m.ChildIndex(0)
	require.True(t, ok)
	require.Equal(t, 1, child)

	m.MarkSplitDone(1)
	child, ok = m.ChildIndex(0)
	require.True(t, ok)
	require.Equal(t, 2, child)
	child, ok = m.ChildIndex(1)
	require.True(t, ok)
	require.Equal(t, 3, child)

	m.MarkSplitDone(2)
	m.MarkSplitDone(3)
	child, ok = m.ChildIndex(0)
	require.True(t, ok)
	require.Equal(t, 4, child)
	child, ok = m.ChildIndex(3)
	require.True(t, ok)
	require.Equal(t, 7, child)
}

func TestChildIndexExhausted(t *testing.T) {
	m := NewMapping(1, 0, 1)
	for i := 1; i < MaxPartitions; i++ {
		m.MarkSplitDone(i)
	}
	_, ok := m.ChildIndex(0)
	require.False(t, ok)
}

func TestSplittablePolicies(t *testing.T) {
	m := NewMapping(1, 0, 2)

	require.True(t, m.Splittable(SplitNumServersBound, 1, 0))
	require.False(t, m.Splittable(SplitNever, 1, 0))
	require.True(t, m.Splittable(SplitNoBound, 1, 0))

	// with one partition per server and two servers, only partitions
	// {0, 1} may ever exist
	m.MarkSplitDone(1)
	require.False(t, m.Splittable(SplitNumServersBound, 1, 0))
	require.False(t, m.Splittable(SplitNumServersBound, 1, 1))
	require.True(t, m.Splittable(SplitNumServersBound, 2, 0))
}

func TestMigratesTo(t *testing.T) {
	// child 1 has radix 1: entries whose reversed first bit is 1 move
	require.True(t, MigratesTo(hashWithFirstByte(0x80), 1))
	require.False(t, MigratesTo(hashWithFirstByte(0x00), 1))

	// child 2 has radix 2
	require.True(t, MigratesTo(hashWithFirstByte(0x40), 2))
	require.False(t, MigratesTo(hashWithFirstByte(0x80), 2))
	require.False(t, MigratesTo(hashWithFirstByte(0x00), 2))
}

func TestMigrationPartitionsEntries(t *testing.T) {
	// every entry of the parent either stays or lands exactly on the child
	m := NewMapping(1, 0, 8)
	m.MarkSplitDone(1)
	child, ok := m.ChildIndex(0)
	require.True(t, ok)
	for b := 0; b < 256; b++ {
		h := hashWithFirstByte(byte(b))
		if m.IndexForHash(h) != 0 {
			continue
		}
		after := m.Clone()
		after.MarkSplitDone(child)
		want := 0
		if MigratesTo(h, child) {
			want = child
		}
		require.Equal(t, want, after.IndexForHash(h))
	}
}

func TestMergeIsMonotonicOr(t *testing.T) {
	a := NewMapping(1, 0, 2)
	a.MarkSplitDone(1)

	b := NewMapping(1, 0, 4)
	b.MarkSplitDone(2)

	a.Merge(b)
	require.True(t, a.Bit(0))
	require.True(t, a.Bit(1))
	require.True(t, a.Bit(2))
	require.Equal(t, uint32(4), a.ServerCount)
	require.Equal(t, uint32(2), a.CurrRadix)

	// merging a smaller view never clears bits nor shrinks the cluster
	a.Merge(NewMapping(1, 0, 1))
	require.True(t, a.Bit(1))
	require.True(t, a.Bit(2))
	require.Equal(t, uint32(4), a.ServerCount)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := NewMapping(42, 1, 3)
	m.MarkSplitDone(1)
	m.MarkSplitDone(3)

	buf := m.Serialize()
	require.Len(t, buf, 16+MaxBitmapLen)

	got, ok := Deserialize(buf)
	require.True(t, ok)
	require.Equal(t, m, got)

	_, ok = Deserialize(buf[:10])
	require.False(t, ok)
}

func TestWireRoundTrip(t *testing.T) {
	m := NewMapping(42, 1, 3)
	m.MarkSplitDone(1)

	got := FromWire(m.ToWire())
	require.Equal(t, m, got)
}

func TestReverseBitsEnumeration(t *testing.T) {
	// readdir enumerates partitions of radix 2 as 0, 2, 1, 3
	var order []int
	for i := 0; i < 4; i++ {
		order = append(order, int(ReverseBits(uint8(i), 2)))
	}
	require.Equal(t, []int{0, 2, 1, 3}, order)

	require.Equal(t, uint8(0), ReverseBits(0, 0))
	require.Equal(t, uint8(1), ReverseBits(1, 1))
}

func TestRemoveIndex(t *testing.T) {
	m := NewMapping(1, 0, 2)
	m.MarkSplitDone(1)
	m.RemoveIndex(1)
	require.False(t, m.Bit(1))
	require.Equal(t, uint32(0), m.CurrRadix)
}
