package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/stagehand/internal/build"
)

// FakeBundler hands out FakeCompilers and records every construction.
type FakeBundler struct {
	// Errs makes NewCompiler fail for a target.
	Errs map[build.Target]error
	// OnNew runs inside NewCompiler before the compiler is returned.
	OnNew func(cfg build.TargetConfig)

	mu        sync.Mutex
	compilers map[build.Target]*FakeCompiler
	order     []build.Target
}

// NewCompiler implements build.Bundler.
func (b *FakeBundler) NewCompiler(cfg build.TargetConfig) (build.Compiler, error) {
	if b.OnNew != nil {
		b.OnNew(cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = append(b.order, cfg.Target)
	if err := b.Errs[cfg.Target]; err != nil {
		return nil, err
	}

	if b.compilers == nil {
		b.compilers = make(map[build.Target]*FakeCompiler)
	}
	c := NewFakeCompiler(cfg)
	b.compilers[cfg.Target] = c
	return c, nil
}

// Compiler returns the compiler built for target, or nil.
func (b *FakeBundler) Compiler(target build.Target) *FakeCompiler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compilers[target]
}

// Constructed lists targets in construction order.
func (b *FakeBundler) Constructed() []build.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]build.Target(nil), b.order...)
}

// FakeCompiler is an in-memory build.Compiler. Compiles succeed unless an
// error is set with SetError; Trigger simulates a change to staged sources.
type FakeCompiler struct {
	cfg build.TargetConfig

	mu        sync.Mutex
	err       error
	compiles  int
	onInvalid []func()
	onDone    []func(build.Stats)

	trigger      chan struct{}
	watching     chan struct{}
	watchingOnce sync.Once
}

// NewFakeCompiler creates a compiler for cfg.
func NewFakeCompiler(cfg build.TargetConfig) *FakeCompiler {
	return &FakeCompiler{
		cfg:      cfg,
		trigger:  make(chan struct{}, 16),
		watching: make(chan struct{}),
	}
}

func (c *FakeCompiler) Target() build.Target       { return c.cfg.Target }
func (c *FakeCompiler) OutputDir() string          { return c.cfg.OutputDir }
func (c *FakeCompiler) Config() build.TargetConfig { return c.cfg }

func (c *FakeCompiler) OnInvalid(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvalid = append(c.onInvalid, fn)
}

func (c *FakeCompiler) OnDone(fn func(build.Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = append(c.onDone, fn)
}

// SetError makes subsequent compiles fail with err. A nil err restores
// success.
func (c *FakeCompiler) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Compiles returns how many compiles have run.
func (c *FakeCompiler) Compiles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles
}

// Watching is closed once Watch has finished its first compile.
func (c *FakeCompiler) Watching() <-chan struct{} {
	return c.watching
}

// Trigger requests a recompile from a running Watch.
func (c *FakeCompiler) Trigger() {
	c.trigger <- struct{}{}
}

// Compile implements build.Compiler.
func (c *FakeCompiler) Compile(ctx context.Context) build.Stats {
	c.mu.Lock()
	invalid := append([]func(){}, c.onInvalid...)
	c.mu.Unlock()
	for _, fn := range invalid {
		fn()
	}

	c.mu.Lock()
	c.compiles++
	stats := build.Stats{Target: c.cfg.Target, Started: time.Now(), Err: c.err}
	if c.err != nil {
		stats.Output = c.err.Error()
		stats.Diagnostics = build.ParseDiagnostics([]byte(c.err.Error()))
	}
	done := append([]func(build.Stats){}, c.onDone...)
	c.mu.Unlock()

	for _, fn := range done {
		fn(stats)
	}
	return stats
}

// Watch implements build.Compiler.
func (c *FakeCompiler) Watch(ctx context.Context, _ build.WatchOptions, cb build.Callback) error {
	run := func() {
		stats := c.Compile(ctx)
		if cb != nil {
			cb(stats)
		}
	}

	run()
	c.watchingOnce.Do(func() { close(c.watching) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
			run()
		}
	}
}
