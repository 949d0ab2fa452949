package proto

import (
	"context"

	"google.golang.org/grpc"
)

// MetadataServiceClient is the client API for the metadata service.
//
// The service descriptor below is maintained by hand against the wire
// contract; it mirrors the layout protoc-gen-go-grpc would emit so that
// interceptors, metrics and the grpc runtime see a regular unary service.
type MetadataServiceClient interface {
	InitRPC(ctx context.Context, in *InitRPCRequest, opts ...grpc.CallOption) (*InitRPCResponse, error)
	Getattr(ctx context.Context, in *GetattrRequest, opts ...grpc.CallOption) (*GetattrResponse, error)
	Access(ctx context.Context, in *AccessRequest, opts ...grpc.CallOption) (*AccessResponse, error)
	Mknod(ctx context.Context, in *MknodRequest, opts ...grpc.CallOption) (*MknodResponse, error)
	Mkdir(ctx context.Context, in *MkdirRequest, opts ...grpc.CallOption) (*MkdirResponse, error)
	CreateEntry(ctx context.Context, in *CreateEntryRequest, opts ...grpc.CallOption) (*CreateEntryResponse, error)
	CreateZeroth(ctx context.Context, in *CreateZerothRequest, opts ...grpc.CallOption) (*CreateZerothResponse, error)
	Chmod(ctx context.Context, in *ChmodRequest, opts ...grpc.CallOption) (*ChmodResponse, error)
	Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error)
	Rename(ctx context.Context, in *RenameRequest, opts ...grpc.CallOption) (*RenameResponse, error)
	Readdir(ctx context.Context, in *ReaddirRequest, opts ...grpc.CallOption) (*ReaddirResponse, error)
	ReaddirPlus(ctx context.Context, in *ReaddirPlusRequest, opts ...grpc.CallOption) (*ReaddirPlusResponse, error)
	ReadBitmap(ctx context.Context, in *ReadBitmapRequest, opts ...grpc.CallOption) (*ReadBitmapResponse, error)
	UpdateBitmap(ctx context.Context, in *UpdateBitmapRequest, opts ...grpc.CallOption) (*UpdateBitmapResponse, error)
	InsertSplit(ctx context.Context, in *InsertSplitRequest, opts ...grpc.CallOption) (*InsertSplitResponse, error)
	OpenFile(ctx context.Context, in *OpenFileRequest, opts ...grpc.CallOption) (*OpenFileResponse, error)
	Read(ctx context.Context, in *ReadFileRequest, opts ...grpc.CallOption) (*ReadFileResponse, error)
	Write(ctx context.Context, in *WriteFileRequest, opts ...grpc.CallOption) (*WriteFileResponse, error)
	CloseFile(ctx context.Context, in *CloseFileRequest, opts ...grpc.CallOption) (*CloseFileResponse, error)
}

// MetadataServiceServer is the server API for the metadata service.
type MetadataServiceServer interface {
	InitRPC(context.Context, *InitRPCRequest) (*InitRPCResponse, error)
	Getattr(context.Context, *GetattrRequest) (*GetattrResponse, error)
	Access(context.Context, *AccessRequest) (*AccessResponse, error)
	Mknod(context.Context, *MknodRequest) (*MknodResponse, error)
	Mkdir(context.Context, *MkdirRequest) (*MkdirResponse, error)
	CreateEntry(context.Context, *CreateEntryRequest) (*CreateEntryResponse, error)
	CreateZeroth(context.Context, *CreateZerothRequest) (*CreateZerothResponse, error)
	Chmod(context.Context, *ChmodRequest) (*ChmodResponse, error)
	Remove(context.Context, *RemoveRequest) (*RemoveResponse, error)
	Rename(context.Context, *RenameRequest) (*RenameResponse, error)
	Readdir(context.Context, *ReaddirRequest) (*ReaddirResponse, error)
	ReaddirPlus(context.Context, *ReaddirPlusRequest) (*ReaddirPlusResponse, error)
	ReadBitmap(context.Context, *ReadBitmapRequest) (*ReadBitmapResponse, error)
	UpdateBitmap(context.Context, *UpdateBitmapRequest) (*UpdateBitmapResponse, error)
	InsertSplit(context.Context, *InsertSplitRequest) (*InsertSplitResponse, error)
	OpenFile(context.Context, *OpenFileRequest) (*OpenFileResponse, error)
	Read(context.Context, *ReadFileRequest) (*ReadFileResponse, error)
	Write(context.Context, *WriteFileRequest) (*WriteFileResponse, error)
	CloseFile(context.Context, *CloseFileRequest) (*CloseFileResponse, error)
}

const metadataServiceName = "indexfs.MetadataService"

type metadataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMetadataServiceClient(cc grpc.ClientConnInterface) MetadataServiceClient {
	return &metadataServiceClient{cc}
}

func (c *metadataServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+metadataServiceName+"/"+method, in, out, opts...)
}

func (c *metadataServiceClient) InitRPC(ctx context.Context, in *InitRPCRequest, opts ...grpc.CallOption) (*InitRPCResponse, error) {
	out := new(InitRPCResponse)
	if err := c.invoke(ctx, "InitRPC", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Getattr(ctx context.Context, in *GetattrRequest, opts ...grpc.CallOption) (*GetattrResponse, error) {
	out := new(GetattrResponse)
	if err := c.invoke(ctx, "Getattr", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Access(ctx context.Context, in *AccessRequest, opts ...grpc.CallOption) (*AccessResponse, error) {
	out := new(AccessResponse)
	if err := c.invoke(ctx, "Access", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Mknod(ctx context.Context, in *MknodRequest, opts ...grpc.CallOption) (*MknodResponse, error) {
	out := new(MknodResponse)
	if err := c.invoke(ctx, "Mknod", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Mkdir(ctx context.Context, in *MkdirRequest, opts ...grpc.CallOption) (*MkdirResponse, error) {
	out := new(MkdirResponse)
	if err := c.invoke(ctx, "Mkdir", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) CreateEntry(ctx context.Context, in *CreateEntryRequest, opts ...grpc.CallOption) (*CreateEntryResponse, error) {
	out := new(CreateEntryResponse)
	if err := c.invoke(ctx, "CreateEntry", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) CreateZeroth(ctx context.Context, in *CreateZerothRequest, opts ...grpc.CallOption) (*CreateZerothResponse, error) {
	out := new(CreateZerothResponse)
	if err := c.invoke(ctx, "CreateZeroth", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Chmod(ctx context.Context, in *ChmodRequest, opts ...grpc.CallOption) (*ChmodResponse, error) {
	out := new(ChmodResponse)
	if err := c.invoke(ctx, "Chmod", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error) {
	out := new(RemoveResponse)
	if err := c.invoke(ctx, "Remove", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Rename(ctx context.Context, in *RenameRequest, opts ...grpc.CallOption) (*RenameResponse, error) {
	out := new(RenameResponse)
	if err := c.invoke(ctx, "Rename", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Readdir(ctx context.Context, in *ReaddirRequest, opts ...grpc.CallOption) (*ReaddirResponse, error) {
	out := new(ReaddirResponse)
	if err := c.invoke(ctx, "Readdir", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) ReaddirPlus(ctx context.Context, in *ReaddirPlusRequest, opts ...grpc.CallOption) (*ReaddirPlusResponse, error) {
	out := new(ReaddirPlusResponse)
	if err := c.invoke(ctx, "ReaddirPlus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) ReadBitmap(ctx context.Context, in *ReadBitmapRequest, opts ...grpc.CallOption) (*ReadBitmapResponse, error) {
	out := new(ReadBitmapResponse)
	if err := c.invoke(ctx, "ReadBitmap", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) UpdateBitmap(ctx context.Context, in *UpdateBitmapRequest, opts ...grpc.CallOption) (*UpdateBitmapResponse, error) {
	out := new(UpdateBitmapResponse)
	if err := c.invoke(ctx, "UpdateBitmap", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) InsertSplit(ctx context.Context, in *InsertSplitRequest, opts ...grpc.CallOption) (*InsertSplitResponse, error) {
	out := new(InsertSplitResponse)
	if err := c.invoke(ctx, "InsertSplit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) OpenFile(ctx context.Context, in *OpenFileRequest, opts ...grpc.CallOption) (*OpenFileResponse, error) {
	out := new(OpenFileResponse)
	if err := c.invoke(ctx, "OpenFile", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Read(ctx context.Context, in *ReadFileRequest, opts ...grpc.CallOption) (*ReadFileResponse, error) {
	out := new(ReadFileResponse)
	if err := c.invoke(ctx, "Read", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) Write(ctx context.Context, in *WriteFileRequest, opts ...grpc.CallOption) (*WriteFileResponse, error) {
	out := new(WriteFileResponse)
	if err := c.invoke(ctx, "Write", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *metadataServiceClient) CloseFile(ctx context.Context, in *CloseFileRequest, opts ...grpc.CallOption) (*CloseFileResponse, error) {
	out := new(CloseFileResponse)
	if err := c.invoke(ctx, "CloseFile", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterMetadataServiceServer(s grpc.ServiceRegistrar, srv MetadataServiceServer) {
	s.RegisterService(&MetadataService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(MetadataServiceServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + metadataServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MetadataServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MetadataServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var MetadataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: metadataServiceName,
	HandlerType: (*MetadataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitRPC", Handler: unaryHandler("InitRPC", MetadataServiceServer.InitRPC)},
		{MethodName: "Getattr", Handler: unaryHandler("Getattr", MetadataServiceServer.Getattr)},
		{MethodName: "Access", Handler: unaryHandler("Access", MetadataServiceServer.Access)},
		{MethodName: "Mknod", Handler: unaryHandler("Mknod", MetadataServiceServer.Mknod)},
		{MethodName: "Mkdir", Handler: unaryHandler("Mkdir", MetadataServiceServer.Mkdir)},
		{MethodName: "CreateEntry", Handler: unaryHandler("CreateEntry", MetadataServiceServer.CreateEntry)},
		{MethodName: "CreateZeroth", Handler: unaryHandler("CreateZeroth", MetadataServiceServer.CreateZeroth)},
		{MethodName: "Chmod", Handler: unaryHandler("Chmod", MetadataServiceServer.Chmod)},
		{MethodName: "Remove", Handler: unaryHandler("Remove", MetadataServiceServer.Remove)},
		{MethodName: "Rename", Handler: unaryHandler("Rename", MetadataServiceServer.Rename)},
		{MethodName: "Readdir", Handler: unaryHandler("Readdir", MetadataServiceServer.Readdir)},
		{MethodName: "ReaddirPlus", Handler: unaryHandler("ReaddirPlus", MetadataServiceServer.ReaddirPlus)},
		{MethodName: "ReadBitmap", Handler: unaryHandler("ReadBitmap", MetadataServiceServer.ReadBitmap)},
		{MethodName: "UpdateBitmap", Handler: unaryHandler("UpdateBitmap", MetadataServiceServer.UpdateBitmap)},
		{MethodName: "InsertSplit", Handler: unaryHandler("InsertSplit", MetadataServiceServer.InsertSplit)},
		{MethodName: "OpenFile", Handler: unaryHandler("OpenFile", MetadataServiceServer.OpenFile)},
		{MethodName: "Read", Handler: unaryHandler("Read", MetadataServiceServer.Read)},
		{MethodName: "Write", Handler: unaryHandler("Write", MetadataServiceServer.Write)},
		{MethodName: "CloseFile", Handler: unaryHandler("CloseFile", MetadataServiceServer.CloseFile)},
	},
	Streams: []grpc.StreamDesc{},
}
