package build

import (
	"context"
	"sync/atomic"

	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
)

// JobState is the lifecycle state of a compilation job.
type JobState int32

const (
	StateConstructed JobState = iota
	StateCompiling
	StateWatching
	StateFailedTransient
	StateFailedFatal
)

// String returns the string representation of the JobState
func (s JobState) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateCompiling:
		return "compiling"
	case StateWatching:
		return "watching"
	case StateFailedTransient:
		return "failed-transient"
	case StateFailedFatal:
		return "failed-fatal"
	default:
		return "unknown"
	}
}

// Job is one target's compiler together with its lifecycle state.
type Job struct {
	config     TargetConfig
	compiler   Compiler
	state      atomic.Int32
	logger     logging.Logger
	classifier *errors.Classifier
}

func newJob(cfg TargetConfig, compiler Compiler, logger logging.Logger, classifier *errors.Classifier) *Job {
	j := &Job{
		config:     cfg,
		compiler:   compiler,
		logger:     logger.With("target", string(cfg.Target)),
		classifier: classifier,
	}
	if compiler == nil {
		j.state.Store(int32(StateFailedFatal))
		return j
	}

	compiler.OnInvalid(func() {
		j.transition(StateCompiling)
	})
	compiler.OnDone(func(stats Stats) {
		if stats.HasErrors() {
			j.transition(StateFailedTransient)
			compileErr := errors.New(errors.SiteCompile, stats.Target.DisplayName()+" compile failed", stats.Err)
			_ = j.classifier.Absorb(context.Background(), compileErr)
			for _, d := range stats.Diagnostics {
				j.logger.Warn(context.Background(), nil, d.Message, "file", d.File, "line", d.Line, "column", d.Column)
			}
			return
		}
		j.transition(StateWatching)
	})

	return j
}

func (j *Job) transition(to JobState) {
	from := JobState(j.state.Swap(int32(to)))
	if from != to {
		j.logger.Debug(context.Background(), "Job state changed", "from", from.String(), "to", to.String())
	}
}

// Target returns the job's target kind.
func (j *Job) Target() Target { return j.config.Target }

// Config returns the derived configuration the compiler was built from.
func (j *Job) Config() TargetConfig { return j.config.Clone() }

// Compiler returns the handle used to attach watch callbacks. It is nil for
// a job whose construction failed.
func (j *Job) Compiler() Compiler { return j.compiler }

// State returns the current lifecycle state.
func (j *Job) State() JobState { return JobState(j.state.Load()) }

// Watch runs the compiler's watch loop until ctx is done. Watch setup
// failures are recoverable: they are logged and the job stays failed.
func (j *Job) Watch(ctx context.Context, opts WatchOptions, cb Callback) {
	if j.compiler == nil {
		return
	}
	if err := j.compiler.Watch(ctx, opts, cb); err != nil {
		j.transition(StateFailedTransient)
		_ = j.classifier.Absorb(ctx, errors.New(errors.SiteCompile, "watch loop stopped", err).WithPath(j.config.WatchDir))
	}
}
