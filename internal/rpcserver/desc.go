package rpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names, as used by clients and interceptors.
const (
	EvaluateMethod         = "/" + ServiceName + "/Evaluate"
	ComputePosteriorMethod = "/" + ServiceName + "/ComputePosterior"
	SampleMethod           = "/" + ServiceName + "/Sample"
	ModelInfoMethod        = "/" + ServiceName + "/ModelInfo"
)

// unaryHandler adapts one SolverServer method to grpc.MethodDesc.
func unaryHandler(name string, call func(SolverServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SolverServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SolverServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Solver service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SolverServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Evaluate", SolverServer.Evaluate),
		unaryHandler("ComputePosterior", SolverServer.ComputePosterior),
		unaryHandler("Sample", SolverServer.Sample),
		unaryHandler("ModelInfo", SolverServer.ModelInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shapemodel/v1/solver.proto",
}
