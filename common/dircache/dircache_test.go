package dircache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlBlockSurvivesRelease(t *testing.T) {
	table := NewTable()

	d := table.Get(7)
	d.Lock()
	d.PartitionSize = 42
	d.Unlock()
	table.Release(7, d)

	// the counter persists across get/release cycles
	d2 := table.Get(7)
	require.Same(t, d, d2)
	d2.Lock()
	require.Equal(t, int64(42), d2.PartitionSize)
	d2.Unlock()
	table.Release(7, d2)
}

func TestEvict(t *testing.T) {
	table := NewTable()

	d := table.Get(7)
	table.Evict(7)
	table.Release(7, d)

	// a fresh block replaces the evicted one
	d2 := table.Get(7)
	require.NotSame(t, d, d2)
	table.Release(7, d2)

	// evicting an absent block is a no-op
	table.Evict(999)
}

func TestCondvarWakeup(t *testing.T) {
	table := NewTable()
	d := table.Get(1)
	defer table.Release(1, d)

	var wg sync.WaitGroup
	d.Lock()
	d.SplitFlag = true
	d.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Lock()
		for d.SplitFlag {
			d.Wait()
		}
		d.Unlock()
	}()

	d.Lock()
	d.SplitFlag = false
	d.Broadcast()
	d.Unlock()
	wg.Wait()
}
