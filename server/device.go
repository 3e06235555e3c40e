package server

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrDeviceBusy is returned by Open while another holder has the device.
	ErrDeviceBusy = errors.New("server: device busy")
	// ErrDeviceNotOpen is returned for I/O on a device that is not open.
	ErrDeviceNotOpen = errors.New("server: device not open")
)

// Device exposes a Runner as a character device: a program is written in
// one Write, and its output is read back once the run completes.
type Device struct {
	runner *Runner

	mu      sync.Mutex
	open    bool
	pending *deviceRun
	last    *RunResult
	output  []byte
	offset  int
}

// deviceRun is a submitted program. done closes once res or err is set.
type deviceRun struct {
	done chan struct{}
	res  *RunResult
	err  error
}

// NewDevice returns a closed device backed by runner.
func NewDevice(runner *Runner) *Device {
	return &Device{runner: runner}
}

// Open claims the device.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return ErrDeviceBusy
	}
	d.open = true
	d.offset = 0
	return nil
}

// Write waits for any previous run, then submits p as a program without
// waiting for it to execute.
func (d *Device) Write(p []byte) (int, error) {
	return d.WriteContext(context.Background(), p)
}

// WriteContext is Write with ctx bounding both the wait for the previous
// run and the wait for a queue slot.
func (d *Device) WriteContext(ctx context.Context, p []byte) (int, error) {
	if err := d.settle(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	done, err := d.runner.Submit(ctx, string(p))
	if err != nil {
		return 0, err
	}
	d.pending = d.watch(done)
	return len(p), nil
}

// Read waits for the current run, then copies its output starting at the
// read offset. At the end of the output it returns io.EOF and rewinds.
func (d *Device) Read(p []byte) (int, error) {
	return d.ReadContext(context.Background(), p)
}

// ReadContext is Read with ctx bounding the wait for the current run.
func (d *Device) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := d.settle(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if d.offset >= len(d.output) {
		d.offset = 0
		return 0, io.EOF
	}
	n := copy(p, d.output[d.offset:])
	d.offset += n
	return n, nil
}

// Result returns the outcome of the most recent completed run.
func (d *Device) Result() *RunResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Close releases the device. A submitted run keeps going, and its output
// is available to the next holder.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrDeviceNotOpen
	}
	d.open = false
	return nil
}

func (d *Device) watch(done <-chan *RunResult) *deviceRun {
	run := &deviceRun{done: make(chan struct{})}
	go func() {
		defer close(run.done)
		select {
		case run.res = <-done:
		case <-d.runner.stopped:
			select {
			case run.res = <-done:
			default:
				run.err = ErrWorkerStopped
			}
		}
	}()
	return run
}

// settle waits without holding mu until no run is pending. On success it
// returns with mu held and the device open.
func (d *Device) settle(ctx context.Context) error {
	d.mu.Lock()
	for {
		if !d.open {
			d.mu.Unlock()
			return ErrDeviceNotOpen
		}
		run := d.pending
		if run == nil {
			return nil
		}
		d.mu.Unlock()

		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		d.mu.Lock()
		if d.pending != run {
			continue
		}
		d.pending = nil
		if run.err != nil {
			d.mu.Unlock()
			return run.err
		}
		d.last = run.res
		d.output = []byte(run.res.Output)
		d.offset = 0
	}
}
