package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newConnectClient(t *testing.T, svc *RunService) *RunServiceClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(NewRunServiceHandler(svc))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewRunServiceClient(srv.Client(), srv.URL)
}

func TestConnectRun(t *testing.T) {
	client := newConnectClient(t, NewRunService(newTestRunner(t), nil))

	res, err := client.Run(bg(), "fun sq(x) { return x * x; } print sq(12);")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusOK || res.Output != "144\n" {
		t.Errorf("result = %+v", res)
	}
}

func TestConnectRunReportsScriptErrors(t *testing.T) {
	client := newConnectClient(t, NewRunService(newTestRunner(t), nil))

	res, err := client.Run(bg(), "var x = ;")
	if err != nil {
		t.Fatalf("a compile error is a result, not an RPC error: %v", err)
	}
	if res.Status != StatusCompileError || res.Line != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Error != "[line 1] Error at ';': Expect expression." {
		t.Errorf("error = %q", res.Error)
	}
}

func TestConnectRunEmptySource(t *testing.T) {
	client := newConnectClient(t, NewRunService(newTestRunner(t), nil))

	_, err := client.Run(bg(), "  ")
	if err == nil {
		t.Fatal("expected error for empty source")
	}
	if code := connect.CodeOf(err); code != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", code)
	}
}

func TestConnectRunStoppedRunner(t *testing.T) {
	r := NewRunner()
	r.Stop()
	client := newConnectClient(t, NewRunService(r, nil))

	_, err := client.Run(bg(), "print 1;")
	if code := connect.CodeOf(err); code != connect.CodeUnavailable {
		t.Errorf("code = %v, want Unavailable (err %v)", code, err)
	}
}

func TestConnectStats(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()

	runner := newTestRunner(t, OnComplete(func(source string, res *RunResult) {
		if err := journal.Record(bg(), source, res); err != nil {
			t.Errorf("Record: %v", err)
		}
	}))
	client := newConnectClient(t, NewRunService(runner, journal))

	for _, src := range []string{"print 1;", "print;", "print -nil;"} {
		if _, err := client.Run(bg(), src); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := client.Stats(bg())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := RunnerStats{Runs: 3, CompileErrors: 1, RuntimeErrors: 1}
	if stats.Runner != want {
		t.Errorf("runner stats = %+v, want %+v", stats.Runner, want)
	}
	if stats.Journal != 3 {
		t.Errorf("journal = %d, want 3", stats.Journal)
	}
}

func newGRPCClient(t *testing.T, svc *RunService) *GRPCClient {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := grpc.NewServer()
	NewGRPCService(svc).Register(s)
	go s.Serve(ln)
	t.Cleanup(s.Stop)

	client, err := DialGRPC(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGRPCRun(t *testing.T) {
	client := newGRPCClient(t, NewRunService(newTestRunner(t), nil))

	src := `
class Counter {
  init() { this.n = 0; }
  inc() { this.n = this.n + 1; return this; }
}
print Counter().inc().inc().n;
`
	res, err := client.Run(bg(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusOK || res.Output != "2\n" {
		t.Errorf("result = %+v", res)
	}
}

func TestGRPCRunEmptySource(t *testing.T) {
	client := newGRPCClient(t, NewRunService(newTestRunner(t), nil))

	_, err := client.Run(bg(), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument (err %v)", status.Code(err), err)
	}
}

func TestGRPCStats(t *testing.T) {
	client := newGRPCClient(t, NewRunService(newTestRunner(t), nil))

	if _, err := client.Run(bg(), "print 1;"); err != nil {
		t.Fatal(err)
	}
	stats, err := client.Stats(bg())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Runner.Runs != 1 || stats.Journal != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := &RunResult{ID: "x", Status: StatusRuntimeError, Output: "out", Line: 7}
	data, err := cborCodec{}.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out RunResult
	if err := (cborCodec{}).Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Status != in.Status || out.Output != in.Output || out.Line != in.Line {
		t.Errorf("decoded %+v, want %+v", out, in)
	}

	if err := (cborCodec{}).Unmarshal([]byte{0xff}, &out); err == nil {
		t.Error("expected error for malformed input")
	}
}
