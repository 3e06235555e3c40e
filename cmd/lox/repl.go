package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/loxvm/manifest"
	"github.com/chazu/loxvm/server"
)

// runREPL reads one program per line and runs it through a Device, the
// same write-then-read cycle a device client uses. Each line runs on a
// fresh VM, so definitions do not carry over between lines.
func runREPL(cfg *manifest.Manifest, in io.Reader, out io.Writer) int {
	runner := server.NewRunner(server.WithVMOptions(cfg.VMOptions()...))
	defer runner.Stop()
	device := server.NewDevice(runner)
	if err := device.Open(); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	defer device.Close()

	fmt.Fprintln(out, "loxvm REPL (type 'exit' to quit, ':help' for commands)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return 0
		case strings.HasPrefix(line, ":"):
			handleREPLCommand(runner, line, out)
			continue
		}

		if _, err := device.Write([]byte(line)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if _, err := io.Copy(out, device); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	return 0
}

func handleREPLCommand(runner *server.Runner, line string, out io.Writer) {
	switch strings.Fields(line)[0] {
	case ":help":
		fmt.Fprintln(out, "  :help   show this message")
		fmt.Fprintln(out, "  :stats  show run counters")
		fmt.Fprintln(out, "  exit    leave the REPL")
	case ":stats":
		s := runner.Stats()
		fmt.Fprintf(out, "runs %d, compile errors %d, runtime errors %d\n",
			s.Runs, s.CompileErrors, s.RuntimeErrors)
	default:
		fmt.Fprintf(out, "Unknown command %s\n", line)
	}
}
