package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const fieldCipherServiceName = "credkeeper.v1.FieldCipher"

// FieldCipherServer encrypts and decrypts single field values in the
// iv:tag:ciphertext format for trusted internal callers.
type FieldCipherServer interface {
	Encrypt(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Decrypt(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type stringMethod func(FieldCipherServer, context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)

func unaryHandler(fullMethod string, call stringMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FieldCipherServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FieldCipherServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var fieldCipherServiceDesc = grpc.ServiceDesc{
	ServiceName: fieldCipherServiceName,
	HandlerType: (*FieldCipherServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Encrypt",
			Handler:    unaryHandler("/"+fieldCipherServiceName+"/Encrypt", FieldCipherServer.Encrypt),
		},
		{
			MethodName: "Decrypt",
			Handler:    unaryHandler("/"+fieldCipherServiceName+"/Decrypt", FieldCipherServer.Decrypt),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credkeeper/v1/fieldcipher.proto",
}

func RegisterFieldCipherServer(s grpc.ServiceRegistrar, srv FieldCipherServer) {
	s.RegisterService(&fieldCipherServiceDesc, srv)
}

// FieldCipherClient calls a remote FieldCipher service.
type FieldCipherClient struct {
	cc grpc.ClientConnInterface
}

func NewFieldCipherClient(cc grpc.ClientConnInterface) *FieldCipherClient {
	return &FieldCipherClient{cc: cc}
}

func (c *FieldCipherClient) Encrypt(ctx context.Context, plaintext string, opts ...grpc.CallOption) (string, error) {
	return c.invoke(ctx, "Encrypt", plaintext, opts...)
}

func (c *FieldCipherClient) Decrypt(ctx context.Context, serialized string, opts ...grpc.CallOption) (string, error) {
	return c.invoke(ctx, "Decrypt", serialized, opts...)
}

func (c *FieldCipherClient) invoke(ctx context.Context, method, value string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+fieldCipherServiceName+"/"+method, wrapperspb.String(value), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
