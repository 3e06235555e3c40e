package server

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// RunServer is the gRPC server interface for RunService.
type RunServer interface {
	Run(context.Context, *RunRequest) (*RunResult, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// runServiceDesc describes RunService for grpc.Server.RegisterService.
// Messages travel in the CBOR codec registered in codec.go.
var runServiceDesc = grpc.ServiceDesc{
	ServiceName: RunServiceName,
	HandlerType: (*RunServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runMethodHandler},
		{MethodName: "Stats", Handler: statsMethodHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loxvm/v1/run",
}

func runMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statsMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatsProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunServer).Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCService implements RunServer on top of the same Runner the Connect
// handler uses.
type GRPCService struct {
	svc *RunService
}

// NewGRPCService wraps svc for gRPC.
func NewGRPCService(svc *RunService) *GRPCService {
	return &GRPCService{svc: svc}
}

// Register adds the service to s.
func (g *GRPCService) Register(s *grpc.Server) {
	s.RegisterService(&runServiceDesc, g)
}

func (g *GRPCService) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	res, err := g.svc.runner.Run(ctx, req.Source)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	return res, nil
}

func (g *GRPCService) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	resp, err := g.svc.stats(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrWorkerStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// GRPCClient calls RunService over gRPC.
type GRPCClient struct {
	cc *grpc.ClientConn
}

// DialGRPC connects to a RunService at target without transport security.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{cc: cc}, nil
}

// Run submits source and waits for the result.
func (c *GRPCClient) Run(ctx context.Context, source string) (*RunResult, error) {
	out := new(RunResult)
	if err := c.cc.Invoke(ctx, RunProcedure, &RunRequest{Source: source}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the service counters.
func (c *GRPCClient) Stats(ctx context.Context) (*StatsResponse, error) {
	out := new(StatsResponse)
	if err := c.cc.Invoke(ctx, StatsProcedure, &StatsRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error {
	return c.cc.Close()
}
