package server

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/chazu/loxvm/vm"
)

func TestOutputBuffer(t *testing.T) {
	b := NewOutputBuffer()
	b.WriteString("hello ")
	b.Write([]byte("world"))

	if b.Len() != 11 {
		t.Errorf("Len = %d, want 11", b.Len())
	}
	if b.String() != "hello world" {
		t.Errorf("String = %q", b.String())
	}

	p := make([]byte, 5)
	n, err := b.ReadAt(p, 6)
	if n != 5 || err != nil || string(p) != "world" {
		t.Errorf("ReadAt(6) = %d, %v, %q", n, err, p[:n])
	}
	n, err = b.ReadAt(p, 8)
	if n != 3 || err != io.EOF {
		t.Errorf("short ReadAt = %d, %v; want 3, EOF", n, err)
	}
	if _, err := b.ReadAt(p, 11); err != io.EOF {
		t.Errorf("ReadAt at end = %v, want EOF", err)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len after Reset = %d", b.Len())
	}
}

func TestDeviceExclusiveOpen(t *testing.T) {
	d := NewDevice(newTestRunner(t))

	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Open(); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("second Open = %v, want ErrDeviceBusy", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrDeviceNotOpen) {
		t.Errorf("second Close = %v, want ErrDeviceNotOpen", err)
	}
	if err := d.Open(); err != nil {
		t.Errorf("Open after Close: %v", err)
	}
}

func TestDeviceNotOpen(t *testing.T) {
	d := NewDevice(newTestRunner(t))

	if _, err := d.Write([]byte("print 1;")); !errors.Is(err, ErrDeviceNotOpen) {
		t.Errorf("Write = %v, want ErrDeviceNotOpen", err)
	}
	if _, err := d.Read(make([]byte, 4)); !errors.Is(err, ErrDeviceNotOpen) {
		t.Errorf("Read = %v, want ErrDeviceNotOpen", err)
	}
}

func TestDeviceWriteThenRead(t *testing.T) {
	d := NewDevice(newTestRunner(t))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	program := []byte(`print "one"; print "two";`)
	n, err := d.Write(program)
	if err != nil || n != len(program) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	out, err := io.ReadAll(d)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "one\ntwo\n" {
		t.Errorf("output = %q", out)
	}
	if res := d.Result(); res == nil || res.Status != StatusOK {
		t.Errorf("Result = %+v", res)
	}

	// The offset rewinds after EOF, so the output can be read again.
	again, err := io.ReadAll(d)
	if err != nil || string(again) != "one\ntwo\n" {
		t.Errorf("second ReadAll = %q, %v", again, err)
	}
}

func TestDeviceSmallReads(t *testing.T) {
	d := NewDevice(newTestRunner(t))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Write([]byte("print 12345;")); err != nil {
		t.Fatal(err)
	}

	var got []byte
	p := make([]byte, 2)
	for {
		n, err := d.Read(p)
		got = append(got, p[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(got) != "12345\n" {
		t.Errorf("output = %q", got)
	}
}

func TestDeviceWriteWaitsForPreviousRun(t *testing.T) {
	d := NewDevice(newTestRunner(t))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Write([]byte("print 1;")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("print 2;")); err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "2\n" {
		t.Errorf("output = %q, want output of the second program", out)
	}
}

func TestDeviceReportsErrorsInOutput(t *testing.T) {
	d := NewDevice(newTestRunner(t))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Write([]byte("print nope;")); err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(d)
	want := "Undefined variable 'nope'.\n[line 1] in script\n"
	if string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestDeviceReadBeforeWrite(t *testing.T) {
	d := NewDevice(newTestRunner(t))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if n, err := d.Read(make([]byte, 8)); n != 0 || err != io.EOF {
		t.Errorf("Read = %d, %v; want 0, EOF", n, err)
	}
}

func TestDeviceDoesNotBlockDuringRun(t *testing.T) {
	release := make(chan struct{})
	blocking := vm.Option(func(*vm.VM) { <-release })
	d := NewDevice(newTestRunner(t, WithVMOptions(blocking)))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("print 1;")); err != nil {
		t.Fatal(err)
	}

	read := make(chan []byte, 1)
	go func() {
		out, _ := io.ReadAll(d)
		read <- out
	}()

	returned := make(chan struct{})
	go func() {
		d.Result()
		d.Close()
		d.Open()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Result, Close and Open blocked on a running program")
	}

	close(release)
	select {
	case out := <-read:
		if string(out) != "1\n" {
			t.Errorf("output = %q", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not return after the run finished")
	}
}

func TestDeviceWriteContextBoundsWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := vm.Option(func(*vm.VM) { <-release })
	d := NewDevice(newTestRunner(t, WithVMOptions(blocking)))
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Write([]byte("print 1;")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(bg(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.WriteContext(ctx, []byte("print 2;")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WriteContext = %v, want deadline exceeded", err)
	}
	if _, err := d.ReadContext(ctx, make([]byte, 4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadContext = %v, want deadline exceeded", err)
	}
}
