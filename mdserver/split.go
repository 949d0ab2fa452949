package mdserver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/indexfs/indexfs/metrics"
	"github.com/indexfs/indexfs/proto"
)

const (
	splitQueueLen   = 1 << 10
	splitWorkerSize = 4
)

type splitTask struct {
	dirIno      uint64
	parentIndex int
}

// splitEngine executes partition splits in the background. At most one
// split runs per directory (the split flag guards that); splits of
// different directories run concurrently on the pool, serialized only
// around the store's extract primitive.
type splitEngine struct {
	s     *MetadataServer
	tasks chan splitTask
	pool  taskpool.TaskPool
	done  chan struct{}
}

func newSplitEngine(s *MetadataServer) *splitEngine {
	e := &splitEngine{
		s:     s,
		tasks: make(chan splitTask, splitQueueLen),
		pool:  taskpool.New(splitWorkerSize, splitWorkerSize),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// tryEnqueue reports false when the queue is saturated; the caller resets
// the split flag so the next insert past the threshold retries.
func (e *splitEngine) tryEnqueue(task splitTask) bool {
	select {
	case e.tasks <- task:
		return true
	default:
		return false
	}
}

func (e *splitEngine) run() {
	for {
		select {
		case task := <-e.tasks:
			e.pool.Run(func() {
				e.doSplit(task)
			})
		case <-e.done:
			return
		}
	}
}

func (e *splitEngine) close() {
	close(e.done)
	e.pool.Close()
}

func (e *splitEngine) doSplit(task splitTask) {
	span, ctx := trace.StartSpanFromContext(context.Background(), "split")
	s := e.s

	h, err := s.fetchDir(ctx, task.dirIno)
	if err != nil {
		span.Errorf("split of dir %d lost its mapping: %s", task.dirIno, err)
		return
	}
	defer s.releaseDir(task.dirIno, h)

	h.dir.Lock()
	defer func() {
		h.dir.SplitFlag = false
		h.dir.Broadcast()
		h.dir.Unlock()
	}()

	parentSrv := s.cfg.NodeID
	child, ok := h.mapping.ChildIndex(task.parentIndex)
	if !ok {
		return
	}
	childSrv := h.mapping.ServerForIndex(child)

	span.Infof("split dir %d: p%d@s%d -> p%d@s%d",
		task.dirIno, task.parentIndex, parentSrv, child, childSrv)

	outDir := filepath.Join(s.db.SplitDir(), fmt.Sprintf("sst-d%d-p%dp%d-s%ds%d",
		task.dirIno, task.parentIndex, child, parentSrv, childSrv))

	n, minSeq, maxSeq, err := s.db.Extract(ctx, task.dirIno, int64(task.parentIndex), int64(child), outDir)
	if err != nil {
		// partition unchanged; the next insert past the threshold
		// schedules a retry
		span.Errorf("extract of dir %d p%d failed: %s", task.dirIno, task.parentIndex, err)
		return
	}

	if n > 0 {
		if childSrv == parentSrv {
			// both partitions live here: re-ingest the rewritten rows
			// locally, no RPC traffic
			if err := s.db.BulkInsert(ctx, outDir, minSeq, maxSeq); err != nil {
				span.Errorf("local ingest of dir %d p%d failed: %s", task.dirIno, child, err)
				return
			}
		} else {
			cli, err := s.peers.GetClient(childSrv)
			if err != nil {
				span.Errorf("no client for split target server %d: %s", childSrv, err)
				return
			}
			if _, err := cli.InsertSplit(ctx, &proto.InsertSplitRequest{
				DirIno:      task.dirIno,
				ParentIndex: int32(task.parentIndex),
				ChildIndex:  int32(child),
				SstDir:      outDir,
				Mapping:     h.mapping.ToWire(),
				MinSeq:      minSeq,
				MaxSeq:      maxSeq,
				NumEntries:  n,
			}); err != nil {
				// the child bit stays clear; a janitor reclaims the
				// dangling staging directory at the next startup
				span.Errorf("insert split of dir %d into server %d failed: %s", task.dirIno, childSrv, err)
				return
			}
		}
	}

	h.mapping.MarkSplitDone(child)
	h.dir.PartitionSize -= n
	if err := s.db.UpdateBitmap(ctx, task.dirIno, h.mapping); err != nil {
		span.Errorf("persisting bitmap of dir %d failed: %s", task.dirIno, err)
	}

	if zeroth := h.mapping.ZerothServer; zeroth != uint32(parentSrv) {
		// lagging views recover through ServerRedirection exchanges, so
		// a failure here is only logged
		if cli, err := s.peers.GetClient(zeroth); err != nil {
			span.Errorf("no client for zeroth server %d: %s", zeroth, err)
		} else if _, err := cli.UpdateBitmap(ctx, &proto.UpdateBitmapRequest{
			DirIno:  task.dirIno,
			Mapping: h.mapping.ToWire(),
		}); err != nil {
			span.Errorf("bitmap update of dir %d on zeroth server %d failed: %s", task.dirIno, zeroth, err)
		}
	}
	if n > 0 {
		if err := s.db.ExtractClean(); err != nil {
			span.Warnf("staging cleanup of dir %d failed: %s", task.dirIno, err)
		}
	}
	metrics.Splits.Inc()
	span.Infof("split dir %d done: %d rows moved to p%d@s%d", task.dirIno, n, child, childSrv)
}
