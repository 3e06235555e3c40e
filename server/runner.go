package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/loxvm/compiler"
	"github.com/chazu/loxvm/vm"
)

// ErrWorkerStopped is returned for submissions to a stopped Runner.
var ErrWorkerStopped = errors.New("server: runner stopped")

// RunStatus classifies how a run ended.
type RunStatus string

const (
	StatusOK           RunStatus = "ok"
	StatusCompileError RunStatus = "compile_error"
	StatusRuntimeError RunStatus = "runtime_error"
	StatusInternal     RunStatus = "internal_error"
)

// RunResult is the outcome of one program.
type RunResult struct {
	ID          string        `cbor:"1,keyasint" json:"id"`
	Status      RunStatus     `cbor:"2,keyasint" json:"status"`
	Output      string        `cbor:"3,keyasint" json:"output"`
	Error       string        `cbor:"4,keyasint,omitempty" json:"error,omitempty"`
	Line        int           `cbor:"5,keyasint,omitempty" json:"line,omitempty"`
	StartedAt   time.Time     `cbor:"6,keyasint" json:"started_at"`
	Duration    time.Duration `cbor:"7,keyasint" json:"duration"`
	Collections int           `cbor:"8,keyasint" json:"collections"`
}

// RunnerStats counts completed runs by status.
type RunnerStats struct {
	Runs          int64 `cbor:"1,keyasint" json:"runs"`
	CompileErrors int64 `cbor:"2,keyasint" json:"compile_errors"`
	RuntimeErrors int64 `cbor:"3,keyasint" json:"runtime_errors"`
	Internal      int64 `cbor:"4,keyasint" json:"internal_errors"`
}

type runRequest struct {
	source string
	done   chan *RunResult
}

// Runner executes programs one at a time on a dedicated goroutine. Every
// run gets a fresh VM, which is closed before the next run starts.
type Runner struct {
	opts     []vm.Option
	requests chan runRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	log      commonlog.Logger

	onComplete func(source string, res *RunResult)

	runs          atomic.Int64
	compileErrors atomic.Int64
	runtimeErrors atomic.Int64
	internal      atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithVMOptions sets the options every VM is created with.
func WithVMOptions(opts ...vm.Option) RunnerOption {
	return func(r *Runner) { r.opts = append(r.opts, opts...) }
}

// WithQueueDepth sets how many submissions may wait for the worker.
func WithQueueDepth(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.requests = make(chan runRequest, n)
		}
	}
}

// OnComplete registers a callback invoked on the worker goroutine after
// each run has been torn down.
func OnComplete(fn func(source string, res *RunResult)) RunnerOption {
	return func(r *Runner) { r.onComplete = fn }
}

// NewRunner creates a Runner and starts its goroutine.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		requests: make(chan runRequest, 16),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      commonlog.GetLogger("loxvm.server"),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.stopped)
	for {
		select {
		case req := <-r.requests:
			res := r.execute(req.source)
			if r.onComplete != nil {
				r.onComplete(req.source, res)
			}
			req.done <- res
		case <-r.quit:
			return
		}
	}
}

// execute runs source on a fresh VM, recovering from panics.
func (r *Runner) execute(source string) (res *RunResult) {
	res = &RunResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	out := NewOutputBuffer()

	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusInternal
			res.Error = fmt.Sprintf("%v", p)
			r.log.Errorf("run %s panicked: %v", res.ID, p)
		}
		res.Output = out.String()
		res.Duration = time.Since(res.StartedAt)
		r.count(res.Status)
	}()

	opts := append([]vm.Option{}, r.opts...)
	opts = append(opts, vm.WithOutput(out), vm.WithCompiler(compiler.Compile))
	machine := vm.New(opts...)
	defer machine.Close()

	result, err := machine.Interpret(source)
	res.Collections = machine.Heap().Stats().Collections

	switch result {
	case vm.InterpretOK:
		res.Status = StatusOK
	case vm.InterpretCompileError:
		res.Status = StatusCompileError
		var ce *vm.CompileError
		if errors.As(err, &ce) && len(ce.Diagnostics) > 0 {
			res.Line = ce.Diagnostics[0].Line
		}
	case vm.InterpretRuntimeError:
		res.Status = StatusRuntimeError
		var re *vm.RuntimeError
		if errors.As(err, &re) {
			res.Line = re.Line()
		}
	}
	if err != nil {
		res.Error = err.Error()
	}
	r.log.Debugf("run %s: %s in %s", res.ID, res.Status, time.Since(res.StartedAt))
	return res
}

func (r *Runner) count(status RunStatus) {
	r.runs.Add(1)
	switch status {
	case StatusCompileError:
		r.compileErrors.Add(1)
	case StatusRuntimeError:
		r.runtimeErrors.Add(1)
	case StatusInternal:
		r.internal.Add(1)
	}
}

// Submit queues source and returns a channel that receives the result.
// The context governs waiting for a queue slot only.
func (r *Runner) Submit(ctx context.Context, source string) (<-chan *RunResult, error) {
	req := runRequest{source: source, done: make(chan *RunResult, 1)}
	select {
	case <-r.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case r.requests <- req:
		return req.done, nil
	case <-r.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits source and blocks until it completes. A started program is
// not interrupted when ctx ends; the result is discarded instead.
func (r *Runner) Run(ctx context.Context, source string) (*RunResult, error) {
	done, err := r.Submit(ctx, source)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-done:
		return res, nil
	case <-r.stopped:
		// The worker may have finished this run just before stopping.
		select {
		case res := <-done:
			return res, nil
		default:
			return nil, ErrWorkerStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns counters for completed runs.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Runs:          r.runs.Load(),
		CompileErrors: r.compileErrors.Load(),
		RuntimeErrors: r.runtimeErrors.Load(),
		Internal:      r.internal.Load(),
	}
}

// Stop shuts down the worker goroutine after the current run finishes.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.stopped
}
