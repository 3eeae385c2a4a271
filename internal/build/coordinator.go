package build

import (
	"context"
	"fmt"
	"sync"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Bundler    Bundler
	Hook       Hook
	Logger     logging.Logger
	Classifier *errors.Classifier
}

// Coordinator owns the browser and server jobs of a session.
type Coordinator struct {
	cfg        *config.Config
	bundler    Bundler
	hook       Hook
	logger     logging.Logger
	classifier *errors.Classifier

	mu   sync.RWMutex
	jobs map[Target]*Job
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator for cfg. cfg is only read.
func NewCoordinator(cfg *config.Config, opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("coordinator")

	c := &Coordinator{
		cfg:        cfg,
		bundler:    opts.Bundler,
		hook:       opts.Hook,
		logger:     logger,
		classifier: opts.Classifier,
		jobs:       make(map[Target]*Job, len(Targets)),
	}
	if c.classifier == nil {
		c.classifier = errors.NewClassifier(logger, nil)
	}
	return c
}

// Start derives and constructs both jobs, starts the server job in quiet
// watch mode and returns the browser job for the dev server to drive. Any
// error returned is fatal; no job has started in that case.
func (c *Coordinator) Start(ctx context.Context) (*Job, error) {
	if c.bundler == nil {
		return nil, fmt.Errorf("coordinator has no bundler")
	}

	configs := make(map[Target]TargetConfig, len(Targets))
	for _, target := range Targets {
		meta := TargetMeta{Target: target, Dev: true}
		tc, err := ApplyHook(c.hook, Derive(c.cfg, target), meta)
		if err != nil {
			hookErr := errors.New(errors.SiteConfigHook, "configuration hook failed", err).
				WithHint(fmt.Sprintf("check the modify.%s section of your configuration", target))
			return nil, c.classifier.Absorb(ctx, hookErr)
		}
		configs[target] = tc
	}

	for _, target := range Targets {
		tc := configs[target]
		compiler, err := c.bundler.NewCompiler(tc)
		c.mu.Lock()
		c.jobs[target] = newJob(tc, compiler, c.logger, c.classifier)
		c.mu.Unlock()
		if err != nil {
			initErr := errors.New(errors.SiteCompilerInit,
				fmt.Sprintf("failed to create %s compiler", target.DisplayName()), err)
			return nil, c.classifier.Absorb(ctx, initErr)
		}
		c.logger.Debug(ctx, "Compiler constructed", "target", string(target), "command", tc.Command)
	}

	server := c.Job(TargetServer)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		server.Watch(ctx, WatchOptions{Quiet: true}, func(Stats) {})
	}()

	return c.Job(TargetBrowser), nil
}

// Job returns the job for target, or nil before Start.
func (c *Coordinator) Job(target Target) *Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobs[target]
}

// Status reports the state of every constructed job.
func (c *Coordinator) Status() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make(map[string]string, len(c.jobs))
	for target, job := range c.jobs {
		status[string(target)] = job.State().String()
	}
	return status
}

// Wait blocks until the server job's watch loop has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
