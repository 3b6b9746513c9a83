package handler

import (
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// intField 整数フィールドを取り出す（未指定は def）
func intField(req *structpb.Struct, name string, def int64) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int64(n.NumberValue), nil
}

func mapField(req *structpb.Struct, name string) map[string]interface{} {
	s := req.GetFields()[name].GetStructValue()
	if s == nil {
		return nil
	}
	return s.AsMap()
}

// newStruct レスポンスを組み立てる
func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}
