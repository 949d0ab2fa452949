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
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewKVStore(context.TODO(), t.TempDir(), RocksdbLsmKVType, &Option{CreateIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRocksdbBasicOps(t *testing.T) {
	ctx := context.TODO()
	s := newTestStore(t)

	_, err := s.Get(ctx, []byte("missing"))
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Put(ctx, []byte("k1"), []byte("v1")))
	v, err := s.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, []byte("k1")))
	_, err = s.Get(ctx, []byte("k1"))
	require.Equal(t, ErrNotFound, err)

	// delete is idempotent
	require.NoError(t, s.Delete(ctx, []byte("k1")))
}

func TestRocksdbWriteBatch(t *testing.T) {
	ctx := context.TODO()
	s := newTestStore(t)

	batch := s.NewWriteBatch()
	defer batch.Close()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.Equal(t, 3, batch.Count())
	require.NoError(t, s.Write(ctx, batch))

	_, err := s.Get(ctx, []byte("a"))
	require.Equal(t, ErrNotFound, err)
	v, err := s.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestRocksdbIterator(t *testing.T) {
	ctx := context.TODO()
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, []byte(fmt.Sprintf("key-%02d", i)), []byte{byte(i)}))
	}

	it := s.NewIterator(ctx)
	defer it.Close()
	it.Seek([]byte("key-05"))
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"key-05", "key-06", "key-07", "key-08", "key-09"}, got)
}

func TestRocksdbSstIngest(t *testing.T) {
	ctx := context.TODO()
	s := newTestStore(t)

	sst := filepath.Join(t.TempDir(), "bulk.sst")
	w, err := s.NewSstWriter(sst)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Add([]byte(fmt.Sprintf("sst-%02d", i)), []byte{byte(i)}))
	}
	require.NoError(t, w.Finish())
	w.Close()

	require.NoError(t, s.IngestSst(ctx, []string{sst}))
	for i := 0; i < 5; i++ {
		v, err := s.Get(ctx, []byte(fmt.Sprintf("sst-%02d", i)))
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, v)
	}
}
