package proto

const (
	// RootInode is the inode number of "/"; its zeroth server is server 0.
	RootInode = uint64(0)

	// ZerothPartition is the partition id of the serialized bitmap row.
	ZerothPartition = int64(-1)

	ReqIDKey = "req-id"
)

type (
	ServerID = uint32
	Ino      = uint64
)

// Entry body placement states, persisted in the store value header.
const (
	FileInDB uint32 = 1
	FileInFS uint32 = 2
)
