package client

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Pool maintains one grpc connection per metadata server. Dialing is lazy;
// a per-slot mutex serializes reconnect attempts so a flapping endpoint is
// not dialed by every caller at once.
type Pool struct {
	members []proto.Node
	conns   []poolConn
}

type poolConn struct {
	mu     sync.Mutex
	cc     *grpc.ClientConn
	client proto.MetadataServiceClient
}

func NewPool(members []proto.Node) *Pool {
	return &Pool{
		members: members,
		conns:   make([]poolConn, len(members)),
	}
}

// ServerCount is the size of the member list the pool routes across.
func (p *Pool) ServerCount() uint32 {
	return uint32(len(p.members))
}

// GetClient returns the RPC client for one server slot.
func (p *Pool) GetClient(id proto.ServerID) (proto.MetadataServiceClient, error) {
	if int(id) >= len(p.conns) {
		return nil, apierrors.ErrIOError
	}
	c := &p.conns[id]
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cc, err := grpc.Dial(p.members[id].Address(), generateDialOpts()...)
	if err != nil {
		return nil, err
	}
	c.cc = cc
	c.client = proto.NewMetadataServiceClient(cc)
	return c.client, nil
}

func (p *Pool) Close() error {
	for i := range p.conns {
		c := &p.conns[i]
		c.mu.Lock()
		if c.cc != nil {
			c.cc.Close()
			c.cc, c.client = nil, nil
		}
		c.mu.Unlock()
	}
	return nil
}

// reqIDInterceptor stamps every outgoing call with a request id unless the
// caller already set one, so redirect chains and sibling RPCs trace as one
// operation on the servers.
func reqIDInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(proto.ReqIDKey)) == 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, proto.ReqIDKey, uuid.NewString())
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func generateDialOpts() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(reqIDInterceptor),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(proto.CodecName),
			grpc.MaxCallSendMsgSize(math.MaxInt32),
			grpc.MaxCallRecvMsgSize(math.MaxInt32),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                1 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}
