// Package server hosts the Lox VM: a serializing runner, a character-device
// view of it, an optional SQLite journal and RPC front ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/loxvm/manifest"
)

// Server serves RunService over Connect (HTTP) and gRPC, on separate
// listeners, backed by one Runner.
type Server struct {
	cfg     *manifest.Manifest
	runner  *Runner
	journal *Journal
	device  *Device
	mux     *http.ServeMux
	grpc    *grpc.Server
	log     commonlog.Logger
}

// New wires a Server from cfg. A nil cfg uses manifest.Default().
func New(cfg *manifest.Manifest) (*Server, error) {
	if cfg == nil {
		cfg = manifest.Default()
	}
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
		log: commonlog.GetLogger("loxvm.server"),
	}

	if cfg.Journal.Enabled {
		journal, err := OpenJournal(cfg.JournalPath())
		if err != nil {
			return nil, err
		}
		s.journal = journal
	}

	opts := []RunnerOption{
		WithVMOptions(cfg.VMOptions()...),
		WithQueueDepth(cfg.Server.QueueDepth),
	}
	if s.journal != nil {
		opts = append(opts, OnComplete(s.record))
	}
	s.runner = NewRunner(opts...)
	s.device = NewDevice(s.runner)

	svc := NewRunService(s.runner, s.journal)
	s.mux.Handle(NewRunServiceHandler(svc))

	s.grpc = grpc.NewServer()
	NewGRPCService(svc).Register(s.grpc)

	return s, nil
}

func (s *Server) record(source string, res *RunResult) {
	if err := s.journal.Record(context.Background(), source, res); err != nil {
		s.log.Errorf("%s", err)
	}
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Runner returns the shared runner.
func (s *Server) Runner() *Runner { return s.runner }

// Device returns the character-device view of the runner.
func (s *Server) Device() *Device { return s.device }

// Journal returns the run journal, or nil when disabled.
func (s *Server) Journal() *Journal { return s.journal }

// ListenAndServe listens on the configured addresses and serves until ctx
// is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	var grpcLn net.Listener
	if s.cfg.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", s.cfg.Server.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.Server.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves Connect on httpLn and gRPC on grpcLn until ctx is done or
// either server fails. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	httpSrv := &http.Server{Handler: s.mux}
	errc := make(chan error, 2)

	s.log.Noticef("Connect (HTTP/CBOR): http://%s%s", httpLn.Addr(), RunProcedure)
	go func() { errc <- httpSrv.Serve(httpLn) }()
	if grpcLn != nil {
		s.log.Noticef("gRPC (CBOR):         grpc://%s", grpcLn.Addr())
		go func() { errc <- s.grpc.Serve(grpcLn) }()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	httpSrv.Shutdown(context.Background())
	s.grpc.GracefulStop()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		err = nil
	}
	return err
}

// Close stops the runner and closes the journal.
func (s *Server) Close() error {
	s.grpc.Stop()
	s.runner.Stop()
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}
