package iap

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The validator service carries google.protobuf.Struct messages in both
// directions, so it needs no generated code. See Server for the fields.
const (
	ServiceName    = "iap.v1.ReceiptValidator"
	validateMethod = "/" + ServiceName + "/Validate"
)

type ReceiptValidatorServer interface {
	Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ReceiptValidatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReceiptValidatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Validate",
			Handler:    validateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "iap/v1/validator.proto",
}

func RegisterReceiptValidatorServer(s grpc.ServiceRegistrar, srv ReceiptValidatorServer) {
	s.RegisterService(&ReceiptValidatorServiceDesc, srv)
}

func validateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReceiptValidatorServer).Validate(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: validateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReceiptValidatorServer).Validate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Validate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
