// Package dircache tracks the in-memory control block of every directory a
// process currently touches. A control block carries the directory mutex,
// the condition variable split and lease waiters sleep on, the partition
// entry counter and the split-in-progress flag. Blocks are reference
// counted and disappear once the last reference is released.
package dircache

import "sync"

const numShards = 16

// Directory is one directory's control block. PartitionSize and SplitFlag
// are guarded by the directory mutex.
type Directory struct {
	mu   sync.Mutex
	cond *sync.Cond

	PartitionSize int64
	SplitFlag     bool

	refs int
}

func newDirectory() *Directory {
	d := &Directory{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Directory) Lock()      { d.mu.Lock() }
func (d *Directory) Unlock()    { d.mu.Unlock() }
func (d *Directory) Wait()      { d.cond.Wait() }
func (d *Directory) Signal()    { d.cond.Signal() }
func (d *Directory) Broadcast() { d.cond.Broadcast() }

type shard struct {
	mu   sync.Mutex
	dirs map[uint64]*Directory
}

// Table is a sharded map of inode number to control block.
type Table struct {
	shards [numShards]shard
}

func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].dirs = make(map[uint64]*Directory)
	}
	return t
}

func (t *Table) shardOf(ino uint64) *shard {
	return &t.shards[ino&(numShards-1)]
}

// Get returns the directory's control block, creating it on first
// reference. Every Get must be paired with a Release. The table itself
// keeps one reference from creation until Evict, so the entry counter and
// split flag survive between operations.
func (t *Table) Get(ino uint64) *Directory {
	s := t.shardOf(ino)
	s.mu.Lock()
	d, ok := s.dirs[ino]
	if !ok {
		d = newDirectory()
		d.refs = 1
		s.dirs[ino] = d
	}
	d.refs++
	s.mu.Unlock()
	return d
}

// Release drops one reference; the block is erased when none remain.
func (t *Table) Release(ino uint64, d *Directory) {
	s := t.shardOf(ino)
	s.mu.Lock()
	d.refs--
	if d.refs == 0 {
		delete(s.dirs, ino)
	}
	s.mu.Unlock()
}

// Evict drops the table's own reference; the block disappears once the
// remaining holders release theirs.
func (t *Table) Evict(ino uint64) {
	s := t.shardOf(ino)
	s.mu.Lock()
	if d, ok := s.dirs[ino]; ok {
		d.refs--
		if d.refs == 0 {
			delete(s.dirs, ino)
		}
	}
	s.mu.Unlock()
}
