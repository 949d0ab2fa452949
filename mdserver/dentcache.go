package mdserver

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/indexfs/indexfs/common/dircache"
)

// timeEpsilon pads lease expiry comparisons against clock skew between the
// grant and the revoke path.
const timeEpsilon = int64(10_000) // µs

type leaseStatus int

const (
	leaseRead leaseStatus = iota
	leaseWrite
)

type dentKey struct {
	dirIno uint64
	name   string
}

// dentry is the server-side record of one leased directory entry. All
// fields are guarded by the owning directory's mutex.
type dentry struct {
	inodeID      uint64
	zerothServer uint32
	materialized bool

	expireTime int64 // µs since epoch
	status     leaseStatus

	readCount  uint64
	writeCount uint64
}

type dentCache struct {
	lru *lru.Cache[dentKey, *dentry]
}

func newDentCache(size int) *dentCache {
	if size <= 0 {
		size = defaultDentCacheSize
	}
	c, _ := lru.New[dentKey, *dentry](size)
	return &dentCache{lru: c}
}

func (c *dentCache) get(dirIno uint64, name string) (*dentry, bool) {
	return c.lru.Get(dentKey{dirIno, name})
}

func (c *dentCache) insert(dirIno uint64, name string, ent *dentry) {
	c.lru.Add(dentKey{dirIno, name}, ent)
}

func (c *dentCache) evict(dirIno uint64, name string) {
	c.lru.Remove(dentKey{dirIno, name})
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// writeLockDirEntry marks an entry as under mutation and waits out any
// lease a client may still be holding. The caller holds the directory
// mutex; the wait drops it while sleeping and re-acquires before returning.
func (s *MetadataServer) writeLockDirEntry(dir *dircache.Directory, dirIno uint64, name string) *dentry {
	now := nowMicros()
	ent, ok := s.dents.get(dirIno, name)
	if !ok {
		ent = &dentry{status: leaseWrite, writeCount: 1}
		s.dents.insert(dirIno, name, ent)
		return ent
	}

	ent.writeCount++
	for ent.status == leaseWrite {
		dir.Wait()
	}
	if now < ent.expireTime+timeEpsilon {
		ent.status = leaseWrite
		sleep := time.Duration(ent.expireTime-now+timeEpsilon) * time.Microsecond
		dir.Unlock()
		time.Sleep(sleep)
		dir.Lock()
	}
	return ent
}

// unlockDirEntry re-opens the entry for leasing and wakes waiters.
func (s *MetadataServer) unlockDirEntry(dir *dircache.Directory, ent *dentry) {
	ent.status = leaseRead
	dir.Broadcast()
}
