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
)

const RocksdbLsmKVType = LsmKVType("rocksdb")

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	LsmKVType string

	// Store is the ordered KV engine underneath the metadata tables.
	// Keys compare bytewise; rows sharing a key prefix are contiguous,
	// which the partition scans rely on. SST writing plus ingestion is
	// the bulk path used when a partition split ships rows between
	// stores.
	Store interface {
		Get(ctx context.Context, key []byte) (value []byte, err error)
		Put(ctx context.Context, key []byte, value []byte) error
		Delete(ctx context.Context, key []byte) error
		NewWriteBatch() WriteBatch
		Write(ctx context.Context, batch WriteBatch) error
		NewIterator(ctx context.Context) Iterator
		NewSstWriter(path string) (SstWriter, error)
		IngestSst(ctx context.Context, paths []string) error
		Flush(ctx context.Context) error
		Stats(ctx context.Context) (Stats, error)
		Close()
	}

	WriteBatch interface {
		Put(key, value []byte)
		Delete(key []byte)
		Count() int
		Close()
	}

	// Iterator walks keys in ascending bytewise order. Key and Value
	// return copies that stay valid after the iterator advances.
	Iterator interface {
		Seek(key []byte)
		SeekToFirst()
		Valid() bool
		Next()
		Key() []byte
		Value() []byte
		Err() error
		Close()
	}

	// SstWriter builds a standalone sorted table. Add must be called in
	// ascending key order; Finish fails on an empty table.
	SstWriter interface {
		Add(key, value []byte) error
		Finish() error
		Close()
	}

	Stats struct {
		Used          uint64
		MemtableUsage uint64
	}

	Option struct {
		CreateIfMissing      bool   `json:"create_if_missing"`
		Sync                 bool   `json:"sync"`
		BlockSize            int    `json:"block_size"`
		BlockCache           uint64 `json:"block_cache"`
		WriteBufferSize      int    `json:"write_buffer_size"`
		MaxWriteBufferNumber int    `json:"max_write_buffer_number"`
		MaxOpenFiles         int    `json:"max_open_files"`
		MaxBackgroundJobs    int    `json:"max_background_jobs"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}
