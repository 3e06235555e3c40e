// lox runs Lox programs on the bytecode VM, serves them over RPC, or checks
// them for an editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/loxvm/compiler"
	"github.com/chazu/loxvm/manifest"
	"github.com/chazu/loxvm/server"
	"github.com/chazu/loxvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

type options struct {
	configDir string
	verbosity int
	logFile   string
	serve     bool
	lsp       bool
	disasm    bool
	stressGC  bool
	traceGC   bool
	remote    string
	remoteRPC string
}

func main() {
	var opts options
	flag.StringVar(&opts.configDir, "config", "", "Directory containing loxvm.toml (default: search upward from cwd)")
	flag.IntVar(&opts.verbosity, "v", -1, "Log verbosity 0-5 (overrides [log] verbosity)")
	flag.StringVar(&opts.logFile, "log", "", "Log file (default: stderr)")
	flag.BoolVar(&opts.serve, "serve", false, "Serve RunService over Connect and gRPC")
	flag.BoolVar(&opts.lsp, "lsp", false, "Run the language server on stdio")
	flag.BoolVar(&opts.disasm, "disasm", false, "Print bytecode instead of running")
	flag.BoolVar(&opts.stressGC, "stress-gc", false, "Collect before every allocation")
	flag.BoolVar(&opts.traceGC, "trace-gc", false, "Log every collection")
	flag.StringVar(&opts.remote, "remote", "", "Run the file on a Connect server at this URL")
	flag.StringVar(&opts.remoteRPC, "remote-grpc", "", "Run the file on a gRPC server at this address")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lox [options] [script]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Lox script, or starts a REPL when no script is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lox                        # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  lox fib.lox                # Run a script\n")
		fmt.Fprintf(os.Stderr, "  lox -disasm fib.lox        # Show bytecode\n")
		fmt.Fprintf(os.Stderr, "  lox -serve                 # Serve on [server] addr and grpc-addr\n")
		fmt.Fprintf(os.Stderr, "  lox -remote http://localhost:8463 fib.lox\n")
	}
	flag.Parse()

	os.Exit(run(opts, flag.Args()))
}

func run(opts options, args []string) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	switch {
	case opts.lsp:
		if err := server.NewLSP(cfg.GCOptions()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			return 1
		}
		return 0

	case opts.serve:
		return serve(cfg)
	}

	if len(args) > 1 {
		flag.Usage()
		return exitUsage
	}
	if len(args) == 0 {
		return runREPL(cfg, os.Stdin, os.Stdout)
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file %q: %v\n", args[0], err)
		return exitIOError
	}

	switch {
	case opts.disasm:
		return disassemble(cfg, string(source), os.Stdout)
	case opts.remote != "":
		client := server.NewRunServiceClient(http.DefaultClient, opts.remote)
		return runRemote(client.Run, string(source), os.Stdout)
	case opts.remoteRPC != "":
		client, err := server.DialGRPC(opts.remoteRPC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
		defer client.Close()
		return runRemote(client.Run, string(source), os.Stdout)
	}
	return runFile(cfg, string(source), os.Stdout)
}

// loadConfig finds loxvm.toml and applies command-line overrides.
func loadConfig(opts options) (*manifest.Manifest, error) {
	var (
		cfg *manifest.Manifest
		err error
	)
	if opts.configDir != "" {
		cfg, err = manifest.Load(opts.configDir)
	} else {
		cfg, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	if opts.verbosity >= 0 {
		cfg.Log.Verbosity = opts.verbosity
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.stressGC {
		cfg.GC.Stress = true
	}
	if opts.traceGC {
		cfg.GC.Trace = true
	}
	return cfg, cfg.Validate()
}

func newVM(cfg *manifest.Manifest, out io.Writer) *vm.VM {
	opts := append(cfg.VMOptions(), vm.WithOutput(out), vm.WithCompiler(compiler.Compile))
	return vm.New(opts...)
}

func runFile(cfg *manifest.Manifest, source string, out io.Writer) int {
	machine := newVM(cfg, out)
	defer machine.Close()

	result, _ := machine.Interpret(source)
	return exitCode(result)
}

func exitCode(result vm.InterpretResult) int {
	switch result {
	case vm.InterpretCompileError:
		return exitCompileError
	case vm.InterpretRuntimeError:
		return exitRuntimeError
	default:
		return 0
	}
}

func disassemble(cfg *manifest.Manifest, source string, out io.Writer) int {
	h := vm.NewHeap(cfg.GCOptions())
	defer h.Free()

	fn, err := compiler.Compile(h, source)
	if err != nil {
		fmt.Fprintln(out, err)
		return exitCompileError
	}
	io.WriteString(out, compiler.Disassemble(h, fn))
	return 0
}

func runRemote(call func(context.Context, string) (*server.RunResult, error), source string, out io.Writer) int {
	res, err := call(context.Background(), source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitIOError
	}
	io.WriteString(out, res.Output)
	switch res.Status {
	case server.StatusCompileError:
		return exitCompileError
	case server.StatusRuntimeError, server.StatusInternal:
		return exitRuntimeError
	}
	return 0
}

func serve(cfg *manifest.Manifest) int {
	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
