package client

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type dentKey struct {
	dirIno uint64
	name   string
}

// dentValue is a leased lookup result. It is usable until expireTime
// (microseconds, server clock); after that the resolver refetches.
type dentValue struct {
	ino          uint64
	zerothServer uint32
	expireTime   int64
}

type dentCache struct {
	lru *lru.Cache[dentKey, dentValue]
}

func newDentCache(size int) *dentCache {
	if size <= 0 {
		size = defaultDentCacheSize
	}
	c, _ := lru.New[dentKey, dentValue](size)
	return &dentCache{lru: c}
}

func (c *dentCache) get(dirIno uint64, name string) (dentValue, bool) {
	return c.lru.Get(dentKey{dirIno, name})
}

func (c *dentCache) put(dirIno uint64, name string, v dentValue) {
	c.lru.Add(dentKey{dirIno, name}, v)
}

func (c *dentCache) evict(dirIno uint64, name string) {
	c.lru.Remove(dentKey{dirIno, name})
}
