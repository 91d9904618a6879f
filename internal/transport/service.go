package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ptides.v1.EventTransport 只有一個 unary 方法：
//
//	rpc Deliver(google.protobuf.BytesValue) returns (google.protobuf.Empty);
//
// 訊息全部使用 well-known types，所以不需要產生的程式碼。
const (
	serviceName   = "ptides.v1.EventTransport"
	deliverMethod = "/" + serviceName + "/Deliver"
)

// EventTransportServer 服務端介面
type EventTransportServer interface {
	Deliver(ctx context.Context, frame *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventTransportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventTransportServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc 手寫的服務描述，供 grpc.Server.RegisterService 使用
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventTransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ptides/v1/transport.proto",
}
