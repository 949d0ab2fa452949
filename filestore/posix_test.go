package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPosixStore(t *testing.T) {
	ctx := context.TODO()
	s := NewPosixStore(t.TempDir())

	_, err := s.Get(ctx, "files/1/missing.dat")
	require.Equal(t, ErrNotFound, err)
	_, err = s.Size(ctx, "files/1/missing.dat")
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Put(ctx, "files/1/f.dat", []byte("hello world")))

	data, err := s.Get(ctx, "files/1/f.dat")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	size, err := s.Size(ctx, "files/1/f.dat")
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	part, err := s.ReadAt(ctx, "files/1/f.dat", 6, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), part)

	// short read past the end is not an error
	part, err = s.ReadAt(ctx, "files/1/f.dat", 6, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), part)

	require.NoError(t, s.Delete(ctx, "files/1/f.dat"))
	require.NoError(t, s.Delete(ctx, "files/1/f.dat"))
	_, err = s.Get(ctx, "files/1/f.dat")
	require.Equal(t, ErrNotFound, err)
}

func TestFactory(t *testing.T) {
	ctx := context.TODO()

	s, err := New(ctx, &Config{Root: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &PosixStore{}, s)

	_, err = New(ctx, &Config{Kind: "tape"})
	require.Error(t, err)
}
