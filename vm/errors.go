package vm

import (
	"errors"
	"fmt"
	"strings"
)

// InterpretResult is the terminal status of a run.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// String returns a human-readable name for the result.
func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

var (
	// ErrBusy is returned when Interpret is called while the VM is already
	// running a program. A VM runs one program at a time.
	ErrBusy = errors.New("vm: already running")

	// ErrClosed is returned by a VM whose heap has been torn down.
	ErrClosed = errors.New("vm: closed")

	// ErrNoCompiler is returned by Interpret when no compiler is installed.
	ErrNoCompiler = errors.New("vm: no compiler installed")
)

// Diagnostic is one compile error.
type Diagnostic struct {
	Line    int
	Where   string // " at 'x'", " at end" or ""
	Message string
}

// String formats the diagnostic the way it is printed to the output sink.
func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.Where, d.Message)
}

// CompileError collects every diagnostic reported while compiling.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

// TraceLine is one frame of a runtime error stack trace.
type TraceLine struct {
	Line     int
	Function string // "" for the top-level script
}

// String formats the frame as "[line N] in name()" or "[line N] in script".
func (t TraceLine) String() string {
	if t.Function == "" {
		return fmt.Sprintf("[line %d] in script", t.Line)
	}
	return fmt.Sprintf("[line %d] in %s()", t.Line, t.Function)
}

// RuntimeError is a terminal error raised while executing bytecode.
type RuntimeError struct {
	Message string
	Trace   []TraceLine // innermost frame first
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, t := range e.Trace {
		sb.WriteString("\n")
		sb.WriteString(t.String())
	}
	return sb.String()
}

// Line returns the line of the innermost frame, or 0.
func (e *RuntimeError) Line() int {
	if len(e.Trace) == 0 {
		return 0
	}
	return e.Trace[0].Line
}
