package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a typed BetaSketch client. Every call uses the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *Client) CreateBeta(ctx context.Context, in *CreateBetaRequest, opts ...grpc.CallOption) (*CreateBetaResponse, error) {
	return invoke[CreateBetaResponse](ctx, c.cc, "CreateBeta", in, opts)
}

func (c *Client) ListBetas(ctx context.Context, in *ListBetasRequest, opts ...grpc.CallOption) (*ListBetasResponse, error) {
	return invoke[ListBetasResponse](ctx, c.cc, "ListBetas", in, opts)
}

func (c *Client) GetBeta(ctx context.Context, in *GetBetaRequest, opts ...grpc.CallOption) (*GetBetaResponse, error) {
	return invoke[GetBetaResponse](ctx, c.cc, "GetBeta", in, opts)
}

func (c *Client) SaveDrawing(ctx context.Context, in *SaveDrawingRequest, opts ...grpc.CallOption) (*SaveDrawingResponse, error) {
	return invoke[SaveDrawingResponse](ctx, c.cc, "SaveDrawing", in, opts)
}
