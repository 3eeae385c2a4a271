package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/validation"
	"github.com/conneroisu/stagehand/internal/watcher"
)

// DefaultWatchDebounce groups bursts of staged-tree writes into one compile.
const DefaultWatchDebounce = 100 * time.Millisecond

// Stats describes one compile.
type Stats struct {
	Target      Target
	Started     time.Time
	Duration    time.Duration
	Output      string
	Err         error
	Diagnostics []Diagnostic
}

// HasErrors reports whether the compile failed.
func (s Stats) HasErrors() bool {
	return s.Err != nil
}

// WatchOptions controls a watch loop.
type WatchOptions struct {
	// Quiet logs successful compiles at debug level only.
	Quiet    bool
	Debounce time.Duration
}

// Callback receives the stats of every compile in a watch loop.
type Callback func(Stats)

// Compiler is one incremental compiler instance.
type Compiler interface {
	Target() Target
	OutputDir() string
	// Compile runs a single compile.
	Compile(ctx context.Context) Stats
	// Watch compiles once, then recompiles on every change to the staged
	// source tree until ctx is done.
	Watch(ctx context.Context, opts WatchOptions, cb Callback) error
	// OnInvalid registers fn to run when a compile starts.
	OnInvalid(fn func())
	// OnDone registers fn to run when a compile finishes.
	OnDone(fn func(Stats))
}

// Bundler constructs compilers.
type Bundler interface {
	NewCompiler(cfg TargetConfig) (Compiler, error)
}

// Recorder observes compile durations.
type Recorder interface {
	ObserveCompile(target string, d time.Duration, err error)
}

// DefaultAllowedCommands are the build commands CommandBundler runs.
var DefaultAllowedCommands = []string{"go", "templ", "npx", "node", "esbuild", "make"}

// CommandBundler builds compilers that run an external command inside the
// staging tree.
type CommandBundler struct {
	Logger   logging.Logger
	Recorder Recorder
	// AllowedCommands overrides DefaultAllowedCommands.
	AllowedCommands []string
}

// NewCompiler validates cfg and returns a compiler for it. Validation
// failures are construction errors.
func (b *CommandBundler) NewCompiler(cfg TargetConfig) (Compiler, error) {
	allowed := b.AllowedCommands
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	allowedCommands := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allowedCommands[c] = true
	}

	if err := validation.ValidateCommand(cfg.Command, allowedCommands); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	for _, arg := range cfg.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	for key := range cfg.Env {
		if err := validation.ValidateEnvName(key); err != nil {
			return nil, err
		}
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("command %s not found: %w", cfg.Command, err)
	}

	logger := b.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &CommandCompiler{
		cfg:      cfg.Clone(),
		path:     path,
		logger:   logger.WithComponent("compiler").With("target", string(cfg.Target)),
		recorder: b.Recorder,
	}, nil
}

// CommandCompiler runs a build command for one target.
type CommandCompiler struct {
	cfg      TargetConfig
	path     string
	logger   logging.Logger
	recorder Recorder

	compileMu sync.Mutex

	callbackMu sync.RWMutex
	onInvalid  []func()
	onDone     []func(Stats)
}

func (c *CommandCompiler) Target() Target    { return c.cfg.Target }
func (c *CommandCompiler) OutputDir() string { return c.cfg.OutputDir }

func (c *CommandCompiler) OnInvalid(fn func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onInvalid = append(c.onInvalid, fn)
}

func (c *CommandCompiler) OnDone(fn func(Stats)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onDone = append(c.onDone, fn)
}

// Compile runs the build command once. Compiles never overlap.
func (c *CommandCompiler) Compile(ctx context.Context) Stats {
	c.compileMu.Lock()
	defer c.compileMu.Unlock()

	c.callbackMu.RLock()
	invalid := c.onInvalid
	c.callbackMu.RUnlock()
	for _, fn := range invalid {
		fn()
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		c.logger.Warn(ctx, err, "Failed to create output directory", "path", c.cfg.OutputDir)
	}

	stats := Stats{Target: c.cfg.Target, Started: time.Now()}

	cmd := exec.CommandContext(ctx, c.path, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Environ()...)

	output, err := cmd.CombinedOutput()
	stats.Duration = time.Since(stats.Started)
	stats.Output = string(output)
	if err != nil {
		if ctx.Err() != nil {
			stats.Err = fmt.Errorf("%s compile cancelled: %w", c.cfg.Target, ctx.Err())
		} else {
			stats.Err = fmt.Errorf("%s compile failed: %w", c.cfg.Target, err)
		}
		stats.Diagnostics = ParseDiagnostics(output)
	}

	if c.recorder != nil {
		c.recorder.ObserveCompile(string(c.cfg.Target), stats.Duration, stats.Err)
	}

	c.callbackMu.RLock()
	done := c.onDone
	c.callbackMu.RUnlock()
	for _, fn := range done {
		fn(stats)
	}

	return stats
}

// Watch compiles once, then recompiles whenever the staged source tree
// changes. It blocks until ctx is done.
func (c *CommandCompiler) Watch(ctx context.Context, opts WatchOptions, cb Callback) error {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fw, err := watcher.NewFileWatcher(debounce, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoDotfileFilter(c.cfg.WatchDir))
	if err := fw.AddRecursive(c.cfg.WatchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.cfg.WatchDir, err)
	}

	run := func() {
		stats := c.Compile(ctx)
		if ctx.Err() != nil {
			return
		}
		c.report(ctx, opts, stats)
		if cb != nil {
			cb(stats)
		}
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		c.logger.Debug(ctx, "Staged sources changed", "events", len(events))
		run()
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		return err
	}

	run()
	<-ctx.Done()
	return nil
}

func (c *CommandCompiler) report(ctx context.Context, opts WatchOptions, stats Stats) {
	if stats.HasErrors() {
		return
	}
	if opts.Quiet {
		c.logger.Debug(ctx, "Compiled", "duration", stats.Duration)
		return
	}
	c.logger.Info(ctx, "Compiled successfully", "duration", stats.Duration)
}
