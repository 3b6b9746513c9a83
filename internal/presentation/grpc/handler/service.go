package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// WalletServiceName ウォレット利用者向けサービス（JWT認証）
	WalletServiceName = "credit.v1.WalletService"
	// AdminServiceName 運用向けサービス（APIキー認証）
	AdminServiceName = "credit.v1.AdminService"
)

// FullMethod gRPCのフルメソッド名を返す
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// WalletServiceServer ウォレット利用者向けサービス
//
// メッセージは google.protobuf.Struct で受け渡す。
type WalletServiceServer interface {
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	EstimateCreditsTo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SpendCreditsOn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCreditHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AdminServiceServer 運用向けサービス
type AdminServiceServer interface {
	AddCredits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ProcessFulfillments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler Structを受け取るメソッドのハンドラーを組み立てる
func unaryHandler(service, method string, call unaryMethod) grpc.MethodDesc {
	fullMethod := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// WalletServiceDesc ウォレットサービスの定義
var WalletServiceDesc = grpc.ServiceDesc{
	ServiceName: WalletServiceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(WalletServiceName, "GetBalance", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(WalletServiceServer).GetBalance(ctx, req)
		}),
		unaryHandler(WalletServiceName, "EstimateCreditsTo", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(WalletServiceServer).EstimateCreditsTo(ctx, req)
		}),
		unaryHandler(WalletServiceName, "SpendCreditsOn", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(WalletServiceServer).SpendCreditsOn(ctx, req)
		}),
		unaryHandler(WalletServiceName, "GetCreditHistory", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(WalletServiceServer).GetCreditHistory(ctx, req)
		}),
	},
	Streams: []grpc.StreamDesc{},
}

// AdminServiceDesc 管理サービスの定義
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(AdminServiceName, "AddCredits", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(AdminServiceServer).AddCredits(ctx, req)
		}),
		unaryHandler(AdminServiceName, "ProcessFulfillments", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(AdminServiceServer).ProcessFulfillments(ctx, req)
		}),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterWalletServiceServer ウォレットサービスを登録
func RegisterWalletServiceServer(s grpc.ServiceRegistrar, srv WalletServiceServer) {
	s.RegisterService(&WalletServiceDesc, srv)
}

// RegisterAdminServiceServer 管理サービスを登録
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}
