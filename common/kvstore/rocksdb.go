// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"context"
	"errors"
	"os"
	"strconv"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path     string
		db       *rdb.DB
		opt      *rdb.Options
		envOpt   *rdb.EnvOptions
		readOpt  *rdb.ReadOptions
		writeOpt *rdb.WriteOptions
		flushOpt *rdb.FlushOptions
	}
	iterator struct {
		iter *rdb.Iterator
	}
	writeBatch struct {
		batch *rdb.WriteBatch
	}
	sstWriter struct {
		w *rdb.SSTFileWriter
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	dbOpt := genRocksdbOpts(option)
	db, err := rdb.OpenDb(dbOpt, path)
	if err != nil {
		dbOpt.Destroy()
		return nil, err
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(true)
	}

	return &rocksdb{
		path:     path,
		db:       db,
		opt:      dbOpt,
		envOpt:   rdb.NewDefaultEnvOptions(),
		readOpt:  rdb.NewDefaultReadOptions(),
		writeOpt: wo,
		flushOpt: rdb.NewDefaultFlushOptions(),
	}, nil
}

func (s *rocksdb) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := s.db.Get(s.readOpt, key)
	if err != nil {
		return nil, err
	}
	if !v.Exists() {
		return nil, ErrNotFound
	}
	value := make([]byte, v.Size())
	copy(value, v.Data())
	v.Free()
	return value, nil
}

func (s *rocksdb) Put(ctx context.Context, key []byte, value []byte) error {
	return s.db.Put(s.writeOpt, key, value)
}

func (s *rocksdb) Delete(ctx context.Context, key []byte) error {
	return s.db.Delete(s.writeOpt, key)
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &writeBatch{batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch) error {
	return s.db.Write(s.writeOpt, batch.(*writeBatch).batch)
}

func (s *rocksdb) NewIterator(ctx context.Context) Iterator {
	return &iterator{iter: s.db.NewIterator(s.readOpt)}
}

func (s *rocksdb) NewSstWriter(path string) (SstWriter, error) {
	w := rdb.NewSSTFileWriter(s.envOpt, s.opt)
	if err := w.Open(path); err != nil {
		w.Destroy()
		return nil, err
	}
	return &sstWriter{w: w}, nil
}

func (s *rocksdb) IngestSst(ctx context.Context, paths []string) error {
	opt := rdb.NewDefaultIngestExternalFileOptions()
	defer opt.Destroy()
	opt.SetMoveFiles(true)
	return s.db.IngestExternalFile(paths, opt)
}

func (s *rocksdb) Flush(ctx context.Context) error {
	return s.db.Flush(s.flushOpt)
}

func (s *rocksdb) Stats(ctx context.Context) (Stats, error) {
	var size int64
	for _, f := range s.db.GetLiveFilesMetaData() {
		size += f.Size
	}
	memtableUsage, _ := strconv.ParseUint(s.db.GetProperty("rocksdb.cur-size-all-mem-tables"), 10, 64)
	return Stats{
		Used:          uint64(size),
		MemtableUsage: memtableUsage,
	}, nil
}

func (s *rocksdb) Close() {
	s.writeOpt.Destroy()
	s.readOpt.Destroy()
	s.flushOpt.Destroy()
	s.envOpt.Destroy()
	s.db.Close()
	s.opt.Destroy()
}

func (it *iterator) Seek(key []byte) { it.iter.Seek(key) }
func (it *iterator) SeekToFirst()    { it.iter.SeekToFirst() }
func (it *iterator) Valid() bool     { return it.iter.Valid() }
func (it *iterator) Next()           { it.iter.Next() }
func (it *iterator) Err() error      { return it.iter.Err() }
func (it *iterator) Close()          { it.iter.Close() }

func (it *iterator) Key() []byte {
	k := it.iter.Key()
	key := make([]byte, k.Size())
	copy(key, k.Data())
	k.Free()
	return key
}

func (it *iterator) Value() []byte {
	v := it.iter.Value()
	value := make([]byte, v.Size())
	copy(value, v.Data())
	v.Free()
	return value
}

func (w *writeBatch) Put(key, value []byte) { w.batch.Put(key, value) }
func (w *writeBatch) Delete(key []byte)     { w.batch.Delete(key) }
func (w *writeBatch) Count() int            { return w.batch.Count() }
func (w *writeBatch) Close()                { w.batch.Destroy() }

func (w *sstWriter) Add(key, value []byte) error { return w.w.Add(key, value) }
func (w *sstWriter) Finish() error               { return w.w.Finish() }
func (w *sstWriter) Close()                      { w.w.Destroy() }

func genRocksdbOpts(opt *Option) *rdb.Options {
	opts := rdb.NewDefaultOptions()
	opts.SetCreateIfMissing(opt.CreateIfMissing)
	blockBaseOpt := rdb.NewDefaultBlockBasedTableOptions()
	if opt.BlockSize > 0 {
		blockBaseOpt.SetBlockSize(opt.BlockSize)
	}
	if opt.BlockCache > 0 {
		blockBaseOpt.SetBlockCache(rdb.NewLRUCache(opt.BlockCache))
	}
	opts.SetBlockBasedTableFactory(blockBaseOpt)
	if opt.WriteBufferSize > 0 {
		opts.SetWriteBufferSize(opt.WriteBufferSize)
	}
	if opt.MaxWriteBufferNumber > 0 {
		opts.SetMaxWriteBufferNumber(opt.MaxWriteBufferNumber)
	}
	if opt.MaxOpenFiles > 0 {
		opts.SetMaxOpenFiles(opt.MaxOpenFiles)
	}
	if opt.MaxBackgroundJobs > 0 {
		opts.SetMaxBackgroundCompactions(opt.MaxBackgroundJobs)
	}
	opts.SetStatsDumpPeriodSec(0)
	return opts
}
