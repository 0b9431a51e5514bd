// bacvm CLI - loads a compiled BASIC module, prints its listing and runs it
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bacvm/manifest"
	"github.com/chazu/bacvm/pkg/bytecode"
	"github.com/chazu/bacvm/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bacvm", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to bacvm.toml (default: search upward from the module)")
	verbosity := fs.Int("v", 0, "Log verbosity (overrides manifest)")
	trace := fs.Bool("trace", false, "Log every executed instruction")
	quiet := fs.Bool("quiet", false, "Skip header, constant and disassembly output")
	stackCap := fs.Int("stack", 0, "Operand stack capacity (overrides manifest)")
	storePath := fs.String("store", "", "SQLite module store (overrides manifest)")
	snapshot := fs.String("snapshot", "", "Write the module summary as CBOR to this file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bacvm [options] MODULE\n\n")
		fmt.Fprintf(stderr, "Prints the module header, constant pools and disassembly, then runs it\n")
		fmt.Fprintf(stderr, "with standard input and output.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  bacvm prog.bin                  # List and run\n")
		fmt.Fprintf(stderr, "  bacvm -quiet prog.bin            # Run only\n")
		fmt.Fprintf(stderr, "  bacvm -trace -v 2 prog.bin       # Log each instruction to stderr\n")
		fmt.Fprintf(stderr, "  bacvm -store runs.db prog.bin    # Keep the module and record the run\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "UsageError: expected exactly one module file, got %d arguments\n", fs.NArg())
		fs.Usage()
		return exitUsage
	}
	path := fs.Arg(0)

	cfg, err := loadConfig(*configPath, filepath.Dir(path))
	if err != nil {
		fmt.Fprintf(stderr, "UsageError: %v\n", err)
		return exitUsage
	}

	// Flags override manifest values
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Log.Verbosity = *verbosity
		case "trace":
			cfg.Runtime.Trace = *trace
		case "stack":
			cfg.Runtime.StackCapacity = *stackCap
		case "store":
			cfg.Store.Path = *storePath
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "UsageError: %v\n", err)
		return exitUsage
	}
	if cfg.Runtime.Trace {
		// Trace lines are logged at info level
		cfg.Log.Verbosity = max(cfg.Log.Verbosity, 2)
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())
	log := commonlog.GetLogger("bacvm")
	if cfg.Dir != "" {
		log.Debugf("using manifest in %s", cfg.Dir)
	}

	m, err := bytecode.LoadFile(path)
	if err != nil {
		return fail(stderr, err)
	}

	if !*quiet {
		opts := bytecode.ListingOptions{
			Header:      cfg.Diagnostics.Header,
			Constants:   cfg.Diagnostics.Constants,
			Disassembly: cfg.Diagnostics.Disassembly,
		}
		if err := m.WriteListing(stdout, opts); err != nil {
			return fail(stderr, err)
		}
	}

	if *snapshot != "" {
		if err := writeSnapshot(*snapshot, m); err != nil {
			return fail(stderr, err)
		}
		log.Infof("wrote summary to %s", *snapshot)
	}

	var (
		st     *store.Store
		digest store.Digest
	)
	if sp := cfg.StorePath(); sp != "" {
		st, err = store.Open(sp)
		if err != nil {
			return fail(stderr, err)
		}
		defer st.Close()
		digest, err = st.PutModule(m)
		if err != nil {
			return fail(stderr, err)
		}
	}

	out := &countingWriter{w: stdout}
	vmInst := bytecode.NewVM(m,
		bytecode.WithInput(stdin),
		bytecode.WithOutput(out),
		bytecode.WithStackCapacity(cfg.Runtime.StackCapacity),
		bytecode.WithLineLimit(cfg.Runtime.LineLimit),
		bytecode.WithTrace(cfg.Runtime.Trace),
	)
	started := time.Now()
	runErr := vmInst.Run()
	elapsed := time.Since(started)

	code := exitOK
	if runErr != nil {
		code = fail(stderr, runErr)
	}

	stats := vmInst.Stats()
	log.Debugf("run finished: steps=%d max-int-depth=%d max-str-depth=%d elapsed=%s",
		stats.Steps, stats.MaxIntDepth, stats.MaxStrDepth, elapsed)

	if st != nil {
		rec := store.RunRecord{
			Started:     started,
			Duration:    elapsed,
			ExitCode:    code,
			Steps:       stats.Steps,
			OutputBytes: out.n,
		}
		if runErr != nil {
			rec.ErrorMessage = runErr.Error()
			if k, ok := bytecode.KindOf(runErr); ok {
				rec.ErrorKind = k.String()
			}
		}
		if _, err := st.RecordRun(digest, rec); err != nil {
			log.Errorf("failed to record run: %v", err)
		}
	}

	return code
}

// loadConfig reads the manifest named by -config, or the nearest bacvm.toml
// above the module, or falls back to defaults.
func loadConfig(explicit, moduleDir string) (*manifest.Manifest, error) {
	if explicit != "" {
		return manifest.LoadFile(explicit)
	}
	cfg, err := manifest.FindAndLoad(moduleDir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}
	return cfg, nil
}

func writeSnapshot(path string, m *bytecode.Module) error {
	sum, err := store.Summarize(m)
	if err != nil {
		return err
	}
	data, err := store.EncodeSummary(sum)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// fail reports err on stderr, prefixed with its kind, and returns the exit
// code for it.
func fail(stderr io.Writer, err error) int {
	if _, ok := bytecode.KindOf(err); ok {
		fmt.Fprintln(stderr, err)
	} else {
		fmt.Fprintf(stderr, "IoError: %v\n", err)
	}
	return exitFailure
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
