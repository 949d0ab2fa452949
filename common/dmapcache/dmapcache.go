// Package dmapcache caches per-directory GigaMappings. The cache holds the
// process's only in-memory copy of each mapping; the source of truth stays
// in the zeroth-partition row of the store, so an evicted mapping is simply
// refetched. Mutating a cached mapping requires the directory mutex.
package dmapcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/indexfs/indexfs/giga"
)

const defaultSize = 1 << 15

type Cache struct {
	lru *lru.Cache[uint64, *giga.Mapping]
}

func New(size int) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	c, _ := lru.New[uint64, *giga.Mapping](size)
	return &Cache{lru: c}
}

func (c *Cache) Get(ino uint64) (*giga.Mapping, bool) {
	return c.lru.Get(ino)
}

func (c *Cache) Put(ino uint64, m *giga.Mapping) {
	c.lru.Add(ino, m)
}

func (c *Cache) Evict(ino uint64) {
	c.lru.Remove(ino)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
