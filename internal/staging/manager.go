// Package staging materializes the staging tree that both compilers read
// from. A session stages exactly once, before any compiler starts:
//
//  1. remove the stale build manifest (missing file is fine)
//  2. copy the runtime support files into <staging>/src (fatal on failure)
//  3. copy the project source into <staging>/src (fatal on failure)
//  4. copy the public assets into <staging>/public (optional)
//
// Each step reports a StepResult; whether a failed step stops the sequence is
// decided by the failure classifier, not by the step itself.
package staging

import (
	"context"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/runtime"
)

// Recorder observes step durations.
type Recorder interface {
	ObserveStagingStep(step string, d time.Duration, err error)
}

// StepResult is the outcome of one staging step.
type StepResult struct {
	Site     errors.Site
	Err      error
	Duration time.Duration
}

// Result lists every step that ran, in order.
type Result struct {
	Steps []StepResult
}

// Failed returns the results whose step reported an error.
func (r *Result) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

// Options configures a Manager. Zero values select the OS filesystem and the
// embedded runtime files.
type Options struct {
	Fs         afero.Fs
	RuntimeFs  afero.Fs
	Logger     logging.Logger
	Classifier *errors.Classifier
	Recorder   Recorder
}

// Manager performs the initial population of the staging tree.
type Manager struct {
	cfg         *config.Config
	fs          afero.Fs
	runtimeFs   afero.Fs
	runtimeRoot string
	logger      logging.Logger
	classifier  *errors.Classifier
	recorder    Recorder
}

// NewManager creates a staging manager for cfg.
func NewManager(cfg *config.Config, opts Options) *Manager {
	m := &Manager{
		cfg:         cfg,
		fs:          opts.Fs,
		runtimeFs:   opts.RuntimeFs,
		runtimeRoot: ".",
		logger:      opts.Logger,
		classifier:  opts.Classifier,
		recorder:    opts.Recorder,
	}

	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if cfg.Paths.Runtime != "" {
		m.runtimeFs = m.fs
		m.runtimeRoot = cfg.Resolve(cfg.Paths.Runtime)
	} else if m.runtimeFs == nil {
		m.runtimeFs = runtime.Afero()
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	m.logger = m.logger.WithComponent("staging")
	if m.classifier == nil {
		m.classifier = errors.NewClassifier(m.logger, nil)
	}

	return m
}

type step struct {
	site errors.Site
	run  func() error
}

// Stage runs the staging steps in order. It returns a non-nil error only for
// a fatal failure, in which case later steps did not run. Returning nil is
// the barrier after which compilers may read the staging tree.
func (m *Manager) Stage(ctx context.Context) (*Result, error) {
	steps := []step{
		{errors.SiteManifestRemoval, m.removeManifest},
		{errors.SiteRuntimeCopy, m.copyRuntime},
		{errors.SiteSourceCopy, m.copySource},
		{errors.SitePublicCopy, m.copyPublic},
	}

	result := &Result{}
	if err := m.cfg.CheckLayout(); err != nil {
		fatal := errors.New(errors.SiteSourceCopy, "staging tree overlaps the project tree", err).
			WithPath(m.cfg.StagingDir()).
			WithHint("Move paths.staging outside paths.source and paths.public")
		return result, m.classifier.Absorb(ctx, fatal)
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start := time.Now()
		err := s.run()
		sr := StepResult{Site: s.site, Err: err, Duration: time.Since(start)}
		result.Steps = append(result.Steps, sr)

		if m.recorder != nil {
			m.recorder.ObserveStagingStep(s.site.String(), sr.Duration, err)
		}
		m.logger.Debug(ctx, "Staging step finished",
			"step", s.site.String(),
			"duration", sr.Duration.String(),
			"ok", err == nil)

		if fatal := m.classifier.Absorb(ctx, err); fatal != nil {
			return result, fatal
		}
	}

	m.logger.Info(ctx, "Staging complete",
		"staging", m.cfg.StagingDir(),
		"skipped", len(result.Failed()))
	return result, nil
}

func (m *Manager) removeManifest() error {
	path := m.cfg.ManifestPath()
	err := m.fs.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return errors.New(errors.SiteManifestRemoval, "failed to remove stale manifest", err).WithPath(path)
}

func (m *Manager) copyRuntime() error {
	if err := CopyTree(m.runtimeFs, m.runtimeRoot, m.fs, m.cfg.StagingSourceDir()); err != nil {
		return errors.ErrRuntimeFiles(err).WithPath(m.runtimeRoot)
	}
	return nil
}

func (m *Manager) copySource() error {
	src := m.cfg.SourceDir()
	err := CopyTree(m.fs, src, m.fs, m.cfg.StagingSourceDir())
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return errors.ErrNoSourceDirectory(m.cfg.Paths.Source, err)
	}
	return errors.New(errors.SiteSourceCopy, "failed to stage project source", err).WithPath(src)
}

func (m *Manager) copyPublic() error {
	src := m.cfg.PublicDir()
	if err := CopyTree(m.fs, src, m.fs, m.cfg.StagingPublicDir()); err != nil {
		return errors.New(errors.SitePublicCopy, "public assets not staged", err).WithPath(src)
	}
	return nil
}
