package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/giga"
	"github.com/indexfs/indexfs/proto"
)

func newTestDB(t *testing.T, serverID uint32) *MetaDB {
	t.Helper()
	mdb, err := NewMetaDB(context.TODO(), &Config{
		Path:     t.TempDir(),
		ServerID: serverID,
	})
	require.NoError(t, err)
	t.Cleanup(mdb.Close)
	return mdb
}

func TestCreateGetattrRemove(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	require.NoError(t, mdb.Create(ctx, 1, 0, "f1", 0o644, ""))
	require.Equal(t, apierrors.ErrFileAlreadyExist, mdb.Create(ctx, 1, 0, "f1", 0o644, ""))

	info, err := mdb.Getattr(ctx, 1, 0, "f1")
	require.NoError(t, err)
	require.Equal(t, modeReg|uint32(0o644), info.Mode)
	require.True(t, info.IsEmbedded)

	_, err = mdb.Getattr(ctx, 1, 0, "nope")
	require.Equal(t, apierrors.ErrFileNotFound, err)

	require.NoError(t, mdb.Remove(ctx, 1, 0, "f1"))
	require.Equal(t, apierrors.ErrFileNotFound, mdb.Remove(ctx, 1, 0, "f1"))
}

func TestMkdirAndBitmap(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	ino := mdb.NewInodeNumber()
	require.NoError(t, mdb.Mkdir(ctx, proto.RootInode, 0, "d", ino, 0o755, 1))
	require.Equal(t, apierrors.ErrFileAlreadyExist, mdb.Mkdir(ctx, proto.RootInode, 0, "d", ino, 0o755, 1))

	info, err := mdb.Getattr(ctx, proto.RootInode, 0, "d")
	require.NoError(t, err)
	require.True(t, isDirMode(info.Mode))
	require.Equal(t, ino, info.Id)
	require.Equal(t, uint32(1), info.ZerothServer)

	mapping := giga.NewMapping(uint32(ino), 1, 2)
	require.NoError(t, mdb.CreateBitmap(ctx, ino, mapping))
	require.Equal(t, apierrors.ErrFileAlreadyExist, mdb.CreateBitmap(ctx, ino, mapping))

	got, err := mdb.ReadBitmap(ctx, ino)
	require.NoError(t, err)
	require.Equal(t, mapping, got)

	mapping.MarkSplitDone(1)
	require.NoError(t, mdb.UpdateBitmap(ctx, ino, mapping))
	got, err = mdb.ReadBitmap(ctx, ino)
	require.NoError(t, err)
	require.True(t, got.Bit(1))
}

func TestChmodSetattr(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	require.NoError(t, mdb.Create(ctx, 1, 0, "f", 0o600, ""))
	require.NoError(t, mdb.Chmod(ctx, 1, 0, "f", 0o755))
	info, err := mdb.Getattr(ctx, 1, 0, "f")
	require.NoError(t, err)
	require.Equal(t, modeReg|uint32(0o755), info.Mode)

	info.Size = 4096
	info.Mtime = 1700000000
	require.NoError(t, mdb.Setattr(ctx, 1, 0, "f", info))
	got, err := mdb.Getattr(ctx, 1, 0, "f")
	require.NoError(t, err)
	require.Equal(t, int64(4096), got.Size)
	require.Equal(t, int64(1700000000), got.Mtime)
}

func TestReaddirPagination(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	const total = 10
	want := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("entry-%03d", i)
		want[name] = true
		require.NoError(t, mdb.Create(ctx, 1, 0, name, 0o644, ""))
	}

	got := make(map[string]bool, total)
	var start []byte
	for {
		names, end, more, err := mdb.Readdir(ctx, 1, 0, start, 3)
		require.NoError(t, err)
		require.LessOrEqual(t, len(names), 3)
		for _, n := range names {
			got[n] = true
		}
		if !more {
			break
		}
		start = end
	}
	require.Equal(t, want, got)

	// readdir with the same arguments is a pure function of the store
	names1, _, _, err := mdb.Readdir(ctx, 1, 0, nil, 256)
	require.NoError(t, err)
	names2, _, _, err := mdb.Readdir(ctx, 1, 0, nil, 256)
	require.NoError(t, err)
	require.Equal(t, names1, names2)
	require.Len(t, names1, total)
}

func TestReaddirPlusSkipsBitmapRow(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	require.NoError(t, mdb.CreateBitmap(ctx, 1, giga.NewMapping(1, 0, 1)))
	require.NoError(t, mdb.Create(ctx, 1, 0, "only", 0o644, ""))

	names, infos, _, more, err := mdb.ReaddirPlus(ctx, 1, 0, nil, 256)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []string{"only"}, names)
	require.Len(t, infos, 1)
}

func TestExtractBulkInsert(t *testing.T) {
	ctx := context.TODO()
	parent := newTestDB(t, 0)
	child := newTestDB(t, 1)

	mapping := giga.NewMapping(1, 0, 2)
	childIndex, ok := mapping.ChildIndex(0)
	require.True(t, ok)

	const total = 64
	migrate := make(map[string]bool)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("name-%04d", i)
		require.NoError(t, parent.Create(ctx, 1, 0, name, 0o644, ""))
		hash := giga.HashName(name)
		if giga.MigratesTo(hash[:], childIndex) {
			migrate[name] = true
		}
	}
	require.NotEmpty(t, migrate)
	require.Less(t, len(migrate), total)

	outDir := filepath.Join(parent.SplitDir(), "sst-d1-p0p1-s0s1")
	n, _, _, err := parent.Extract(ctx, 1, 0, int64(childIndex), outDir)
	require.NoError(t, err)
	require.Equal(t, int64(len(migrate)), n)

	// moved rows are gone from the parent partition
	names, _, _, err := parent.Readdir(ctx, 1, 0, nil, 256)
	require.NoError(t, err)
	require.Len(t, names, total-len(migrate))
	for _, name := range names {
		require.False(t, migrate[name])
	}

	// and appear in the child store under the child partition
	require.NoError(t, child.BulkInsert(ctx, outDir, 0, uint64(n)))
	childNames, _, _, err := child.Readdir(ctx, 1, int64(childIndex), nil, 256)
	require.NoError(t, err)
	require.Len(t, childNames, len(migrate))
	for _, name := range childNames {
		require.True(t, migrate[name])
		_, err := child.Getattr(ctx, 1, int64(childIndex), name)
		require.NoError(t, err)
	}

	require.NoError(t, parent.ExtractClean())
}

func TestExtractNothingToMove(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	// entries that all stay put: none hashes into the child
	mapping := giga.NewMapping(1, 0, 2)
	childIndex, _ := mapping.ChildIndex(0)
	for i := 0; i < 64; i++ {
		name := fmt.Sprintf("stay-%04d", i)
		hash := giga.HashName(name)
		if giga.MigratesTo(hash[:], childIndex) {
			continue
		}
		require.NoError(t, mdb.Create(ctx, 1, 0, name, 0o644, ""))
	}

	before, _, _, err := mdb.Readdir(ctx, 1, 0, nil, 256)
	require.NoError(t, err)

	n, _, _, err := mdb.Extract(ctx, 1, 0, int64(childIndex), filepath.Join(mdb.SplitDir(), "sst-empty"))
	require.NoError(t, err)
	require.Zero(t, n)

	after, _, _, err := mdb.Readdir(ctx, 1, 0, nil, 256)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestEmbeddedFileWriteAndSpill(t *testing.T) {
	ctx := context.TODO()
	mdb := newTestDB(t, 0)

	require.NoError(t, mdb.Create(ctx, 1, 0, "f", 0o644, ""))
	require.NoError(t, mdb.WriteFile(ctx, 1, 0, "f", []byte("hello"), 0))
	require.NoError(t, mdb.WriteFile(ctx, 1, 0, "f", []byte("world"), 5))

	embedded, data, _, err := mdb.OpenFile(ctx, 1, 0, "f")
	require.NoError(t, err)
	require.True(t, embedded)
	require.Equal(t, []byte("helloworld"), data)

	info, err := mdb.Getattr(ctx, 1, 0, "f")
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Size)

	require.NoError(t, mdb.WriteLink(ctx, 1, 0, "f", "/files/1/f.dat"))
	embedded, data, realpath, err := mdb.OpenFile(ctx, 1, 0, "f")
	require.NoError(t, err)
	require.False(t, embedded)
	require.Nil(t, data)
	require.Equal(t, "/files/1/f.dat", realpath)

	// embedded writes are rejected once the body moved out
	require.Error(t, mdb.WriteFile(ctx, 1, 0, "f", []byte("x"), 0))
}

func TestInodeAllocation(t *testing.T) {
	mdb := newTestDB(t, 3)

	first := mdb.NewInodeNumber()
	require.Equal(t, uint64(3+inodeStep), first)
	second := mdb.NewInodeNumber()
	require.Equal(t, first+inodeStep, second)

	base := mdb.NewInodeBatch(4)
	require.Equal(t, second+inodeStep, base)
	next := mdb.NewInodeNumber()
	require.Equal(t, second+5*inodeStep, next)
}
