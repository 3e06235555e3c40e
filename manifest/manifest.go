// Package manifest handles loxvm.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/loxvm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "loxvm.toml"

// Manifest represents a loxvm.toml configuration.
type Manifest struct {
	GC      GCConfig      `toml:"gc" json:"gc"`
	VM      VMConfig      `toml:"vm" json:"vm"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Journal JournalConfig `toml:"journal" json:"journal"`
	Log     LogConfig     `toml:"log" json:"log"`

	// Dir is the directory containing the loxvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// GCConfig configures collection pressure.
type GCConfig struct {
	InitialThreshold int     `toml:"initial-threshold" json:"initial-threshold"`
	GrowthFactor     float64 `toml:"growth-factor" json:"growth-factor"`
	MinThreshold     int     `toml:"min-threshold" json:"min-threshold"`
	Stress           bool    `toml:"stress" json:"stress"`
	Trace            bool    `toml:"trace" json:"trace"`
}

// VMConfig configures the interpreter.
type VMConfig struct {
	MaxFrames int `toml:"max-frames" json:"max-frames"`
}

// ServerConfig configures the run service listeners.
type ServerConfig struct {
	Addr       string `toml:"addr" json:"addr"`
	GRPCAddr   string `toml:"grpc-addr" json:"grpc-addr"`
	QueueDepth int    `toml:"queue-depth" json:"queue-depth"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no loxvm.toml exists.
func Default() *Manifest {
	return &Manifest{
		GC: GCConfig{
			InitialThreshold: vm.DefaultInitialThreshold,
			GrowthFactor:     vm.DefaultGrowthFactor,
			MinThreshold:     vm.DefaultMinThreshold,
		},
		VM: VMConfig{MaxFrames: vm.FramesMax},
		Server: ServerConfig{
			Addr:       "localhost:8463",
			GRPCAddr:   "localhost:8464",
			QueueDepth: 16,
		},
		Journal: JournalConfig{Path: ".loxvm/journal.db"},
		Log:     LogConfig{Verbosity: 1},
	}
}

// Load parses a loxvm.toml file from the given directory. Settings absent
// from the file keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates loxvm.toml content.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a loxvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// GCOptions converts the [gc] section for vm.WithGC.
func (m *Manifest) GCOptions() vm.GCOptions {
	return vm.GCOptions{
		InitialThreshold: m.GC.InitialThreshold,
		MinThreshold:     m.GC.MinThreshold,
		GrowthFactor:     m.GC.GrowthFactor,
		Stress:           m.GC.Stress,
		Trace:            m.GC.Trace,
	}
}

// VMOptions returns the interpreter options the configuration implies.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithGC(m.GCOptions()),
		vm.WithMaxFrames(m.VM.MaxFrames),
	}
}

// JournalPath returns the absolute journal database path.
func (m *Manifest) JournalPath() string {
	if filepath.IsAbs(m.Journal.Path) || m.Dir == "" {
		return m.Journal.Path
	}
	return filepath.Join(m.Dir, m.Journal.Path)
}

// LogFile returns the log file path, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
