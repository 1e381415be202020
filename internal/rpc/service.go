package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "betasketch.v1.BetaSketch"

// BetaSketchServer is implemented by the authority.
type BetaSketchServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	CreateBeta(context.Context, *CreateBetaRequest) (*CreateBetaResponse, error)
	ListBetas(context.Context, *ListBetasRequest) (*ListBetasResponse, error)
	GetBeta(context.Context, *GetBetaRequest) (*GetBetaResponse, error)
	SaveDrawing(context.Context, *SaveDrawingRequest) (*SaveDrawingResponse, error)
}

// UnimplementedBetaSketchServer answers codes.Unimplemented for every method.
type UnimplementedBetaSketchServer struct{}

func (UnimplementedBetaSketchServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedBetaSketchServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedBetaSketchServer) CreateBeta(context.Context, *CreateBetaRequest) (*CreateBetaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateBeta not implemented")
}
func (UnimplementedBetaSketchServer) ListBetas(context.Context, *ListBetasRequest) (*ListBetasResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListBetas not implemented")
}
func (UnimplementedBetaSketchServer) GetBeta(context.Context, *GetBetaRequest) (*GetBetaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBeta not implemented")
}
func (UnimplementedBetaSketchServer) SaveDrawing(context.Context, *SaveDrawingRequest) (*SaveDrawingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SaveDrawing not implemented")
}

// FullMethod returns "/betasketch.v1.BetaSketch/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(BetaSketchServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(BetaSketchServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BetaSketchServer), ctx, req.(*Req))
			}
			return ic(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes BetaSketch for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BetaSketchServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", BetaSketchServer.Register),
		unary("Login", BetaSketchServer.Login),
		unary("CreateBeta", BetaSketchServer.CreateBeta),
		unary("ListBetas", BetaSketchServer.ListBetas),
		unary("GetBeta", BetaSketchServer.GetBeta),
		unary("SaveDrawing", BetaSketchServer.SaveDrawing),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "betasketch/v1",
}

// RegisterBetaSketchServer registers srv on s.
func RegisterBetaSketchServer(s grpc.ServiceRegistrar, srv BetaSketchServer) {
	s.RegisterService(&ServiceDesc, srv)
}
