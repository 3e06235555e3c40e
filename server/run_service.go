package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	// RunServiceName is the fully-qualified name of the run service.
	RunServiceName = "loxvm.v1.RunService"

	RunProcedure   = "/" + RunServiceName + "/Run"
	StatsProcedure = "/" + RunServiceName + "/Stats"
)

// RunRequest carries one program.
type RunRequest struct {
	Source string `cbor:"1,keyasint" json:"source"`
}

// StatsRequest is empty.
type StatsRequest struct{}

// StatsResponse reports runner counters and the journal size.
type StatsResponse struct {
	Runner  RunnerStats `cbor:"1,keyasint" json:"runner"`
	Journal int64       `cbor:"2,keyasint" json:"journal"`
}

// RunService implements RunService over Connect.
type RunService struct {
	runner  *Runner
	journal *Journal
}

// NewRunService creates a RunService. journal may be nil.
func NewRunService(runner *Runner, journal *Journal) *RunService {
	return &RunService{runner: runner, journal: journal}
}

// Run executes a program and returns its output.
func (s *RunService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResult], error) {
	if strings.TrimSpace(req.Msg.Source) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	res, err := s.runner.Run(ctx, req.Msg.Source)
	if err != nil {
		return nil, connect.NewError(connectCode(err), err)
	}
	return connect.NewResponse(res), nil
}

// Stats reports how many programs have run.
func (s *RunService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	resp, err := s.stats(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

func (s *RunService) stats(ctx context.Context) (*StatsResponse, error) {
	resp := &StatsResponse{Runner: s.runner.Stats()}
	if s.journal != nil {
		n, err := s.journal.Count(ctx)
		if err != nil {
			return nil, err
		}
		resp.Journal = n
	}
	return resp, nil
}

func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, ErrWorkerStopped):
		return connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	default:
		return connect.CodeInternal
	}
}

// NewRunServiceHandler builds an HTTP handler serving svc with the CBOR
// codec. It returns the path prefix to mount it on.
func NewRunServiceHandler(svc *RunService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	runHandler := connect.NewUnaryHandler(RunProcedure, svc.Run, opts...)
	statsHandler := connect.NewUnaryHandler(StatsProcedure, svc.Stats, opts...)

	mux := http.NewServeMux()
	mux.Handle(RunProcedure, runHandler)
	mux.Handle(StatsProcedure, statsHandler)
	return "/" + RunServiceName + "/", mux
}

// RunServiceClient calls a RunService over Connect.
type RunServiceClient struct {
	run   *connect.Client[RunRequest, RunResult]
	stats *connect.Client[StatsRequest, StatsResponse]
}

// NewRunServiceClient creates a client for the service at baseURL.
func NewRunServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RunServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &RunServiceClient{
		run:   connect.NewClient[RunRequest, RunResult](httpClient, baseURL+RunProcedure, opts...),
		stats: connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+StatsProcedure, opts...),
	}
}

// Run submits source and waits for the result.
func (c *RunServiceClient) Run(ctx context.Context, source string) (*RunResult, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(&RunRequest{Source: source}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Stats fetches the service counters.
func (c *RunServiceClient) Stats(ctx context.Context) (*StatsResponse, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
