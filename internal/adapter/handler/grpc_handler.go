package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// CodecName is the gRPC content subtype the checkout service speaks.
// Messages are the same JSON documents the HTTP API uses.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const checkoutMethod = "/pos.v1.CheckoutService/Checkout"

// CheckoutServer is the server API of pos.v1.CheckoutService.
type CheckoutServer interface {
	Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error)
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: "pos.v1.CheckoutService",
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func checkoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkoutMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServer).Checkout(ctx, req.(*CheckoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CheckoutClient calls pos.v1.CheckoutService over a client connection.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	out := new(CheckoutResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, checkoutMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCHandler reports checkout failures in the response body, like the
// HTTP API, and reserves gRPC status errors for failures without a kind.
type GRPCHandler struct {
	checkout Checkouter
	logger   *slog.Logger
}

func NewGRPCHandler(checkout Checkouter, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{checkout: checkout, logger: logger}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	resp, err := RunCheckout(ctx, h.checkout, req)
	if err != nil {
		h.logger.Error("checkout failed", "request_id", req.RequestID, "status", "error", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &resp, nil
}
