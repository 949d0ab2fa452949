package store

import (
	"encoding/binary"

	"github.com/indexfs/indexfs/giga"
)

// Store keys are parent_inode (u64 LE) | partition_id (i64 LE) | name_hash.
// The layout is protocol-critical: rows of one partition share a 16-byte
// prefix and are therefore contiguous under bytewise key ordering.
const (
	prefixLen = 16
	KeyLen    = prefixLen + giga.HashLen
)

func encodePrefix(buf []byte, parent uint64, partition int64) {
	binary.LittleEndian.PutUint64(buf[0:], parent)
	binary.LittleEndian.PutUint64(buf[8:], uint64(partition))
}

func encodeKey(parent uint64, partition int64, hash []byte) []byte {
	key := make([]byte, KeyLen)
	encodePrefix(key, parent, partition)
	copy(key[prefixLen:], hash)
	return key
}

func encodeNameKey(parent uint64, partition int64, name string) []byte {
	hash := giga.HashName(name)
	return encodeKey(parent, partition, hash[:])
}

func decodeKey(key []byte) (parent uint64, partition int64, hash []byte) {
	parent = binary.LittleEndian.Uint64(key[0:])
	partition = int64(binary.LittleEndian.Uint64(key[8:]))
	hash = key[prefixLen:KeyLen]
	return
}

func samePartition(key []byte, parent uint64, partition int64) bool {
	if len(key) != KeyLen {
		return false
	}
	p, pid, _ := decodeKey(key)
	return p == parent && pid == partition
}

// rewritePartition returns a copy of key addressed to a different partition.
// Only the partition field changes, so relative hash order is preserved.
func rewritePartition(key []byte, partition int64) []byte {
	out := make([]byte, KeyLen)
	copy(out, key)
	binary.LittleEndian.PutUint64(out[8:], uint64(partition))
	return out
}
