package mdserver

import (
	"context"
	"net"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/metrics"
	"github.com/indexfs/indexfs/proto"
)

// RPCServer exposes a MetadataServer over grpc.
type RPCServer struct {
	ms         *MetadataServer
	grpcServer *grpc.Server
}

func NewRPCServer(ms *MetadataServer) *RPCServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		unaryInterceptorWithTracer,
		metrics.GRPCMetrics.UnaryServerInterceptor(),
		unaryInterceptorWithErrorMapping,
	))
	proto.RegisterMetadataServiceServer(s, ms)
	metrics.GRPCMetrics.InitializeMetrics(s)
	return &RPCServer{ms: ms, grpcServer: s}
}

func (r *RPCServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			log.Errorf("grpc serve stopped: %s", err)
		}
	}()
	return nil
}

func (r *RPCServer) Stop() {
	r.grpcServer.GracefulStop()
}

// unaryInterceptorWithTracer seeds a span from the caller's request id so
// one logical operation traces across redirects and sibling RPCs.
func unaryInterceptorWithTracer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if reqID := md.Get(proto.ReqIDKey); len(reqID) > 0 {
			_, ctx = trace.StartSpanFromContextWithTraceID(ctx, info.FullMethod, reqID[0])
			return handler(ctx, req)
		}
	}
	_, ctx = trace.StartSpanFromContext(ctx, info.FullMethod)
	return handler(ctx, req)
}

// unaryInterceptorWithErrorMapping flattens handler errors onto the wire
// taxonomy before the transport and the metrics layer see them.
func unaryInterceptorWithErrorMapping(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, apierrors.ToRPCError(err)
	}
	return resp, nil
}
