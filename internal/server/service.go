package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nupi.vad.analysis.v1.AnalysisService"

const (
	analyzeMethod = "/" + ServiceName + "/Analyze"
	lookupMethod  = "/" + ServiceName + "/Lookup"
)

// AnalysisServiceServer is the server API for AnalysisService. Requests and
// responses are protobuf Structs; see AnalyzeRequest and LookupRequest for
// their fields.
type AnalysisServiceServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedAnalysisServiceServer returns Unimplemented for every method.
type UnimplementedAnalysisServiceServer struct{}

func (UnimplementedAnalysisServiceServer) Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

func (UnimplementedAnalysisServiceServer) Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Lookup not implemented")
}

// RegisterAnalysisServiceServer registers srv on s.
func RegisterAnalysisServiceServer(s grpc.ServiceRegistrar, srv AnalysisServiceServer) {
	s.RegisterService(&AnalysisService_ServiceDesc, srv)
}

func _AnalysisService_Analyze_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServiceServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: analyzeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServiceServer).Analyze(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AnalysisService_Lookup_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServiceServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: lookupMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServiceServer).Lookup(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AnalysisService_ServiceDesc is the grpc.ServiceDesc for AnalysisService.
var AnalysisService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: _AnalysisService_Analyze_Handler},
		{MethodName: "Lookup", Handler: _AnalysisService_Lookup_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nupi/vad/analysis/v1/analysis.proto",
}
