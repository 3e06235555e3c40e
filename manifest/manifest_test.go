package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[gc]
initial-threshold = 4096
growth-factor = 1.5
stress = true

[vm]
max-frames = 128

[server]
addr = "127.0.0.1:9000"
queue-depth = 4

[journal]
enabled = true
path = "runs.db"

[log]
verbosity = 2
file = "lox.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.GC.InitialThreshold != 4096 {
		t.Errorf("initial threshold = %d, want 4096", m.GC.InitialThreshold)
	}
	if m.GC.GrowthFactor != 1.5 {
		t.Errorf("growth factor = %v, want 1.5", m.GC.GrowthFactor)
	}
	if !m.GC.Stress {
		t.Error("stress = false, want true")
	}
	if m.VM.MaxFrames != 128 {
		t.Errorf("max frames = %d, want 128", m.VM.MaxFrames)
	}
	if m.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("server addr = %q", m.Server.Addr)
	}
	if m.Server.QueueDepth != 4 {
		t.Errorf("queue depth = %d, want 4", m.Server.QueueDepth)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}

	absDir, _ := filepath.Abs(dir)
	if m.Dir != absDir {
		t.Errorf("dir = %q, want %q", m.Dir, absDir)
	}
	if got, want := m.JournalPath(), filepath.Join(absDir, "runs.db"); got != want {
		t.Errorf("journal path = %q, want %q", got, want)
	}
	if lf := m.LogFile(); lf == nil || *lf != filepath.Join(absDir, "lox.log") {
		t.Errorf("log file = %v", lf)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm]\nmax-frames = 32\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if m.GC != def.GC {
		t.Errorf("gc = %+v, want defaults %+v", m.GC, def.GC)
	}
	if m.Server != def.Server {
		t.Errorf("server = %+v, want defaults %+v", m.Server, def.Server)
	}
	if m.Journal.Enabled {
		t.Error("journal enabled by default")
	}
	if m.LogFile() != nil {
		t.Errorf("log file = %q, want none", *m.LogFile())
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"growth factor too small", "[gc]\ngrowth-factor = 1.0\n"},
		{"negative threshold", "[gc]\ninitial-threshold = -1\n"},
		{"zero min threshold", "[gc]\nmin-threshold = 0\n"},
		{"zero frames", "[vm]\nmax-frames = 0\n"},
		{"too many frames", "[vm]\nmax-frames = 100000\n"},
		{"negative queue", "[server]\nqueue-depth = -2\n"},
		{"journal without path", "[journal]\nenabled = true\npath = \"\"\n"},
		{"verbosity out of range", "[log]\nverbosity = 9\n"},
		{"unknown key", "[gc]\nturbo = true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for missing loxvm.toml")
	}
}

func TestLoadManifestSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[gc\n")
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[vm]\nmax-frames = 16\n")

	subdir := filepath.Join(root, "scripts", "deep")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(subdir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected to find manifest")
	}
	if m.VM.MaxFrames != 16 {
		t.Errorf("max frames = %d, want 16", m.VM.MaxFrames)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no loxvm.toml exists")
	}
}

func TestVMOptions(t *testing.T) {
	m := Default()
	m.GC.Stress = true
	if opts := m.GCOptions(); !opts.Stress || opts.GrowthFactor != m.GC.GrowthFactor {
		t.Errorf("GCOptions = %+v", opts)
	}
	if n := len(m.VMOptions()); n != 2 {
		t.Errorf("VMOptions returned %d options, want 2", n)
	}
}
