// Package manifest handles bacvm.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/bacvm/pkg/bytecode"
)

// FileName is the manifest file looked up next to modules.
const FileName = "bacvm.toml"

// Manifest represents a bacvm.toml configuration.
type Manifest struct {
	Runtime     Runtime     `toml:"runtime"`
	Diagnostics Diagnostics `toml:"diagnostics"`
	Log         Log         `toml:"log"`
	Store       Store       `toml:"store"`

	// Dir is the directory containing the bacvm.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// Runtime configures the interpreter.
type Runtime struct {
	StackCapacity int  `toml:"stack-capacity"`
	LineLimit     int  `toml:"line-limit"`
	Trace         bool `toml:"trace"`
}

// Diagnostics selects the sections printed before execution.
type Diagnostics struct {
	Header      bool `toml:"header"`
	Constants   bool `toml:"constants"`
	Disassembly bool `toml:"disassembly"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Store configures the SQLite module store. An empty path disables it.
type Store struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	return &Manifest{
		Runtime: Runtime{
			StackCapacity: 100,
			LineLimit:     99,
		},
		Diagnostics: Diagnostics{
			Header:      true,
			Constants:   true,
			Disassembly: true,
		},
	}
}

// Load parses a bacvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the manifest at path. Keys missing from the file keep
// their default values.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a bacvm.toml file,
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

// Validate rejects values the VM cannot run with.
func (m *Manifest) Validate() error {
	if m.Runtime.StackCapacity <= 0 {
		return fmt.Errorf("runtime.stack-capacity must be positive, got %d", m.Runtime.StackCapacity)
	}
	if m.Runtime.StackCapacity > bytecode.MaxStackCapacity {
		return fmt.Errorf("runtime.stack-capacity must be at most %d, got %d",
			bytecode.MaxStackCapacity, m.Runtime.StackCapacity)
	}
	if m.Runtime.LineLimit < 0 {
		return fmt.Errorf("runtime.line-limit must not be negative, got %d", m.Runtime.LineLimit)
	}
	return nil
}

// StorePath returns the store location resolved against the manifest
// directory, or "" when the store is disabled.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// LogFile returns the log file resolved against the manifest directory, or
// nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}
