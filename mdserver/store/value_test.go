package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexfs/indexfs/giga"
	"github.com/indexfs/indexfs/proto"
)

func TestKeyLayout(t *testing.T) {
	hash := giga.HashName("file.txt")
	key := encodeKey(7, 3, hash[:])
	require.Len(t, key, 24)

	parent, partition, h := decodeKey(key)
	require.Equal(t, uint64(7), parent)
	require.Equal(t, int64(3), partition)
	require.Equal(t, hash[:], h)

	require.True(t, samePartition(key, 7, 3))
	require.False(t, samePartition(key, 7, 2))
	require.False(t, samePartition(key, 8, 3))
	require.False(t, samePartition(key[:20], 7, 3))
}

func TestZerothPartitionKeySortsLast(t *testing.T) {
	// the bitmap row must never be swept up by a partition scan: its
	// 0xff..ff partition field sorts after every non-negative partition
	zeroth := encodeKey(7, proto.ZerothPartition, make([]byte, giga.HashLen))
	data := encodeKey(7, 255, make([]byte, giga.HashLen))
	require.Positive(t, bytes.Compare(zeroth, data))
}

func TestRewritePartition(t *testing.T) {
	hash := giga.HashName("x")
	key := encodeKey(1, 0, hash[:])
	out := rewritePartition(key, 2)

	parent, partition, h := decodeKey(out)
	require.Equal(t, uint64(1), parent)
	require.Equal(t, int64(2), partition)
	require.Equal(t, hash[:], h)
	// the input key is untouched
	_, p0, _ := decodeKey(key)
	require.Equal(t, int64(0), p0)
}

func TestEntryValueRoundTrip(t *testing.T) {
	v := &entryValue{
		stat: proto.StatInfo{
			Mode:         modeReg | 0o644,
			Uid:          1000,
			Gid:          1000,
			Size:         12,
			Mtime:        1700000000,
			Ctime:        1700000001,
			Id:           42,
			ZerothServer: 3,
		},
		nlink:    1,
		state:    proto.FileInDB,
		objname:  "hello.txt",
		realpath: "",
		payload:  []byte("hello, world"),
	}

	got, err := decodeEntryValue(v.encode())
	require.NoError(t, err)
	require.Equal(t, v.objname, got.objname)
	require.Equal(t, v.payload, got.payload)
	require.Equal(t, v.nlink, got.nlink)
	require.Equal(t, v.state, got.state)
	require.True(t, got.stat.IsEmbedded)

	want := v.stat
	want.IsEmbedded = true
	require.Equal(t, want, got.stat)
}

func TestEntryValueSpilled(t *testing.T) {
	v := &entryValue{
		stat:     proto.StatInfo{Mode: modeReg | 0o644, Size: 1 << 20},
		nlink:    1,
		state:    proto.FileInFS,
		objname:  "big.bin",
		realpath: "/files/7/big.bin.dat",
	}
	got, err := decodeEntryValue(v.encode())
	require.NoError(t, err)
	require.Equal(t, v.realpath, got.realpath)
	require.False(t, got.stat.IsEmbedded)
	require.Nil(t, got.payload)
}

func TestEntryValueTruncated(t *testing.T) {
	v := &entryValue{objname: "x"}
	buf := v.encode()
	_, err := decodeEntryValue(buf[:headerLen-1])
	require.Error(t, err)
	_, err = decodeEntryValue(buf[:headerLen])
	require.Error(t, err)
}

func TestDirModeHelpers(t *testing.T) {
	require.True(t, isDirMode(modeDir|0o755))
	require.False(t, isDirMode(modeReg|0o755))
}
