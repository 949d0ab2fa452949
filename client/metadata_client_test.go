package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/indexfs/indexfs/common/dircache"
	"github.com/indexfs/indexfs/common/dmapcache"
	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/filestore"
	"github.com/indexfs/indexfs/giga"
	"github.com/indexfs/indexfs/proto"
)

type fakePool struct {
	clients map[uint32]proto.MetadataServiceClient
}

func (p *fakePool) GetClient(id proto.ServerID) (proto.MetadataServiceClient, error) {
	cli, ok := p.clients[id]
	if !ok {
		return nil, apierrors.ErrIOError
	}
	return cli, nil
}

func (p *fakePool) ServerCount() uint32 { return uint32(len(p.clients)) }
func (p *fakePool) Close() error        { return nil }

// fakeServer implements the methods a test needs; everything else panics
// through the embedded nil interface.
type fakeServer struct {
	proto.MetadataServiceClient

	readBitmap func(*proto.ReadBitmapRequest) (*proto.ReadBitmapResponse, error)
	access     func(*proto.AccessRequest) (*proto.AccessResponse, error)
	mknod      func(*proto.MknodRequest) (*proto.MknodResponse, error)
	readdir    func(*proto.ReaddirRequest) (*proto.ReaddirResponse, error)
}

func (f *fakeServer) ReadBitmap(ctx context.Context, in *proto.ReadBitmapRequest, opts ...grpc.CallOption) (*proto.ReadBitmapResponse, error) {
	return f.readBitmap(in)
}

func (f *fakeServer) Access(ctx context.Context, in *proto.AccessRequest, opts ...grpc.CallOption) (*proto.AccessResponse, error) {
	return f.access(in)
}

func (f *fakeServer) Mknod(ctx context.Context, in *proto.MknodRequest, opts ...grpc.CallOption) (*proto.MknodResponse, error) {
	return f.mknod(in)
}

func (f *fakeServer) Readdir(ctx context.Context, in *proto.ReaddirRequest, opts ...grpc.CallOption) (*proto.ReaddirResponse, error) {
	return f.readdir(in)
}

func newTestClient(t *testing.T, pool rpcPool) *MetadataClient {
	t.Helper()
	return &MetadataClient{
		cfg:   &Config{},
		pool:  pool,
		dirs:  dircache.NewTable(),
		dmaps: dmapcache.New(0),
		dents: newDentCache(0),
		files: filestore.NewPosixStore(t.TempDir()),
		fds:   make(map[int]*fileDescriptor),
	}
}

func TestResolvePathParsing(t *testing.T) {
	ctx := context.TODO()
	c := newTestClient(t, &fakePool{})

	_, _, _, _, err := c.ResolvePath(ctx, "")
	require.Equal(t, apierrors.ErrIllegalPath, err)
	_, _, _, _, err = c.ResolvePath(ctx, "relative/path")
	require.Equal(t, apierrors.ErrIllegalPath, err)

	parent, zeroth, entry, depth, err := c.ResolvePath(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, proto.RootInode, parent)
	require.Equal(t, uint32(0), zeroth)
	require.Equal(t, "/", entry)
	require.Zero(t, depth)

	// single component: no lookups needed, parent is the root
	parent, _, entry, depth, err = c.ResolvePath(ctx, "/file")
	require.NoError(t, err)
	require.Equal(t, proto.RootInode, parent)
	require.Equal(t, "file", entry)
	require.Zero(t, depth)

	// trailing slash is stripped
	parent, _, entry, _, err = c.ResolvePath(ctx, "/file/")
	require.NoError(t, err)
	require.Equal(t, proto.RootInode, parent)
	require.Equal(t, "file", entry)
}

func TestResolvePathCachesLookups(t *testing.T) {
	ctx := context.TODO()

	var accessCalls int64
	rootMapping := giga.NewMapping(0, 0, 1)
	srv := &fakeServer{
		readBitmap: func(in *proto.ReadBitmapRequest) (*proto.ReadBitmapResponse, error) {
			return &proto.ReadBitmapResponse{Mapping: rootMapping.ToWire()}, nil
		},
		access: func(in *proto.AccessRequest) (*proto.AccessResponse, error) {
			atomic.AddInt64(&accessCalls, 1)
			return &proto.AccessResponse{
				Ino:          42,
				ZerothServer: 0,
				LeaseUntil:   time.Now().Add(time.Minute).UnixMicro(),
			}, nil
		},
	}
	c := newTestClient(t, &fakePool{clients: map[uint32]proto.MetadataServiceClient{0: srv}})

	parent, _, entry, depth, err := c.ResolvePath(ctx, "/dir/file")
	require.NoError(t, err)
	require.Equal(t, uint64(42), parent)
	require.Equal(t, "file", entry)
	require.Equal(t, 1, depth)
	require.EqualValues(t, 1, accessCalls)

	// second resolution is served from the lookup cache
	parent, _, _, _, err = c.ResolvePath(ctx, "/dir/other")
	require.NoError(t, err)
	require.Equal(t, uint64(42), parent)
	require.EqualValues(t, 1, accessCalls)
}

func TestMknodFollowsRedirection(t *testing.T) {
	ctx := context.TODO()

	// server 0 still routes partition 0; its view got {0,1} after a split
	full := giga.NewMapping(1, 0, 2)
	full.MarkSplitDone(1)
	stale := giga.NewMapping(1, 0, 2)

	// a name owned by partition 1 under the split view
	var name string
	for i := 0; ; i++ {
		name = fmt.Sprintf("entry-%d", i)
		if full.IndexForName(name) == 1 {
			break
		}
	}

	var calls0, calls1 int64
	srv0 := &fakeServer{
		readBitmap: func(in *proto.ReadBitmapRequest) (*proto.ReadBitmapResponse, error) {
			return &proto.ReadBitmapResponse{Mapping: stale.ToWire()}, nil
		},
		mknod: func(in *proto.MknodRequest) (*proto.MknodResponse, error) {
			atomic.AddInt64(&calls0, 1)
			return &proto.MknodResponse{Redirect: full.ToWire()}, nil
		},
	}
	srv1 := &fakeServer{
		mknod: func(in *proto.MknodRequest) (*proto.MknodResponse, error) {
			atomic.AddInt64(&calls1, 1)
			return &proto.MknodResponse{}, nil
		},
	}
	c := newTestClient(t, &fakePool{clients: map[uint32]proto.MetadataServiceClient{0: srv0, 1: srv1}})

	// seed the client with the stale single-bit view of directory 1
	c.dmaps.Put(1, stale.Clone())

	h, err := c.fetchDir(ctx, 1, 0)
	require.NoError(t, err)
	err = c.withRedirects(h, name, func(cli proto.MetadataServiceClient) (*proto.GigaBitmap, error) {
		resp, err := cli.Mknod(ctx, &proto.MknodRequest{DirIno: 1, Name: name})
		if err != nil {
			return nil, apierrors.FromRPCError(err)
		}
		return resp.Redirect, nil
	})
	c.releaseDir(1, h)
	require.NoError(t, err)

	// exactly one redirection: first attempt hit server 0, the merged
	// bitmap routed the retry to server 1
	require.EqualValues(t, 1, calls0)
	require.EqualValues(t, 1, calls1)

	m, ok := c.dmaps.Get(1)
	require.True(t, ok)
	require.True(t, m.Bit(1))
}

func TestTooManyRedirections(t *testing.T) {
	ctx := context.TODO()

	mapping := giga.NewMapping(1, 0, 1)
	srv := &fakeServer{
		mknod: func(in *proto.MknodRequest) (*proto.MknodResponse, error) {
			// a broken server that keeps bouncing the caller
			return &proto.MknodResponse{Redirect: mapping.ToWire()}, nil
		},
	}
	c := newTestClient(t, &fakePool{clients: map[uint32]proto.MetadataServiceClient{0: srv}})
	c.dmaps.Put(1, mapping.Clone())

	h, err := c.fetchDir(ctx, 1, 0)
	require.NoError(t, err)
	defer c.releaseDir(1, h)

	err = c.withRedirects(h, "x", func(cli proto.MetadataServiceClient) (*proto.GigaBitmap, error) {
		resp, err := cli.Mknod(ctx, &proto.MknodRequest{DirIno: 1, Name: "x"})
		if err != nil {
			return nil, apierrors.FromRPCError(err)
		}
		return resp.Redirect, nil
	})
	require.Equal(t, apierrors.ErrTooManyRedirections, err)
}

func TestReaddirVisitsPartitionsInReverseBitOrder(t *testing.T) {
	ctx := context.TODO()

	mapping := giga.NewMapping(7, 0, 1)
	mapping.MarkSplitDone(1)
	mapping.MarkSplitDone(2)

	var visited []int64
	srv := &fakeServer{
		readBitmap: func(in *proto.ReadBitmapRequest) (*proto.ReadBitmapResponse, error) {
			return &proto.ReadBitmapResponse{Mapping: giga.NewMapping(0, 0, 1).ToWire()}, nil
		},
		access: func(in *proto.AccessRequest) (*proto.AccessResponse, error) {
			return &proto.AccessResponse{
				Ino:          7,
				ZerothServer: 0,
				LeaseUntil:   time.Now().Add(time.Minute).UnixMicro(),
			}, nil
		},
		readdir: func(in *proto.ReaddirRequest) (*proto.ReaddirResponse, error) {
			visited = append(visited, in.Partition)
			return &proto.ReaddirResponse{
				Mapping: mapping.ToWire(),
				Entries: []string{fmt.Sprintf("p%d-entry", in.Partition)},
			}, nil
		},
	}
	c := newTestClient(t, &fakePool{clients: map[uint32]proto.MetadataServiceClient{0: srv}})
	c.dmaps.Put(7, mapping.Clone())

	names, err := c.Readdir(ctx, "/d")
	require.NoError(t, err)

	// radix 2 enumerates 0, 2, 1, 3; partition 3 does not exist
	require.Equal(t, []int64{0, 2, 1}, visited)
	require.Equal(t, []string{"p0-entry", "p2-entry", "p1-entry"}, names)
}

func TestReaddirDrainsChunks(t *testing.T) {
	ctx := context.TODO()

	mapping := giga.NewMapping(7, 0, 1)
	chunk := 0
	srv := &fakeServer{
		readBitmap: func(in *proto.ReadBitmapRequest) (*proto.ReadBitmapResponse, error) {
			return &proto.ReadBitmapResponse{Mapping: giga.NewMapping(0, 0, 1).ToWire()}, nil
		},
		access: func(in *proto.AccessRequest) (*proto.AccessResponse, error) {
			return &proto.AccessResponse{Ino: 7, LeaseUntil: time.Now().Add(time.Minute).UnixMicro()}, nil
		},
		readdir: func(in *proto.ReaddirRequest) (*proto.ReaddirResponse, error) {
			chunk++
			if chunk < 3 {
				return &proto.ReaddirResponse{
					Mapping: mapping.ToWire(),
					Entries: []string{fmt.Sprintf("chunk-%d", chunk)},
					EndHash: []byte{byte(chunk), 0, 0, 0, 0, 0, 0, 0},
					More:    true,
				}, nil
			}
			return &proto.ReaddirResponse{
				Mapping: mapping.ToWire(),
				Entries: []string{"chunk-3"},
			}, nil
		},
	}
	c := newTestClient(t, &fakePool{clients: map[uint32]proto.MetadataServiceClient{0: srv}})
	c.dmaps.Put(7, mapping.Clone())

	names, err := c.Readdir(ctx, "/d")
	require.NoError(t, err)
	require.Equal(t, []string{"chunk-1", "chunk-2", "chunk-3"}, names)
}
