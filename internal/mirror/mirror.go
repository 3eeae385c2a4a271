// Package mirror keeps the staged source tree in step with edits to the live
// source tree for the rest of a session.
//
// Every accepted change event produces exactly one copy attempt into the
// staging tree; nothing is batched or debounced. A compiler may observe a
// staged file while it is being replaced. That window lasts until the copy
// finishes and the next compile cycle converges, and is accepted: no lock is
// taken between mirror writes and compiler reads.
package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/staging"
	"github.com/conneroisu/stagehand/internal/watcher"
)

// Recorder counts copy attempts.
type Recorder interface {
	RecordMirrorCopy(err error)
}

// CopyResult describes one copy attempt.
type CopyResult struct {
	Event watcher.ChangeEvent
	Dest  string
	Err   error
}

// Options configures a Mirror.
type Options struct {
	Fs         afero.Fs
	Logger     logging.Logger
	Classifier *errors.Classifier
	Recorder   Recorder
	// OnCopy is called after every copy attempt.
	OnCopy func(CopyResult)
}

// Mirror replicates source changes into the staging tree.
type Mirror struct {
	sourceRoot  string
	stagingRoot string
	fs          afero.Fs
	watcher     *watcher.FileWatcher
	logger      logging.Logger
	classifier  *errors.Classifier
	recorder    Recorder
	onCopy      func(CopyResult)
}

// New creates a mirror from the live source directory of cfg to its staged
// source directory.
func New(cfg *config.Config, opts Options) (*Mirror, error) {
	sourceRoot, err := filepath.Abs(cfg.SourceDir())
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}
	stagingRoot, err := filepath.Abs(cfg.StagingSourceDir())
	if err != nil {
		return nil, fmt.Errorf("resolving staging root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("mirror")

	fw, err := watcher.NewFileWatcher(0, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoDotfileFilter(sourceRoot))

	m := &Mirror{
		sourceRoot:  sourceRoot,
		stagingRoot: stagingRoot,
		fs:          opts.Fs,
		watcher:     fw,
		logger:      logger,
		classifier:  opts.Classifier,
		recorder:    opts.Recorder,
		onCopy:      opts.OnCopy,
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.classifier == nil {
		m.classifier = errors.NewClassifier(logger, nil)
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, event := range events {
			m.HandleEvent(context.Background(), event)
		}
		return nil
	})

	return m, nil
}

// Start begins watching the source tree. The mirror runs until ctx is done.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.watcher.AddRecursive(m.sourceRoot); err != nil {
		m.watcher.Stop()
		return errors.New(errors.SiteMirrorCopy, "failed to watch source tree", err).WithPath(m.sourceRoot)
	}
	if err := m.watcher.Start(ctx); err != nil {
		m.watcher.Stop()
		return err
	}

	go func() {
		<-ctx.Done()
		m.watcher.Stop()
	}()

	m.logger.Info(ctx, "Mirroring source changes", "from", m.sourceRoot, "to", m.stagingRoot)
	return nil
}

// HandleEvent performs the copy attempt for a single event. Deletions and
// renames are not mirrored.
func (m *Mirror) HandleEvent(ctx context.Context, event watcher.ChangeEvent) {
	switch event.Type {
	case watcher.EventTypeCreated, watcher.EventTypeModified:
	default:
		m.logger.Debug(ctx, "Not mirroring event", "path", event.Path, "type", event.Type.String())
		return
	}

	dest, err := Destination(m.sourceRoot, m.stagingRoot, event.Path)
	if err == nil {
		if event.IsDir {
			err = staging.CopyTree(m.fs, event.Path, m.fs, dest)
		} else {
			err = staging.CopyFile(m.fs, event.Path, m.fs, dest)
		}
	}

	if m.recorder != nil {
		m.recorder.RecordMirrorCopy(err)
	}
	if err != nil {
		err = errors.New(errors.SiteMirrorCopy, "failed to mirror change", err).WithPath(event.Path)
		_ = m.classifier.Absorb(ctx, err)
	} else {
		m.logger.Debug(ctx, "Mirrored change", "path", event.Path, "dest", dest, "type", event.Type.String())
	}

	if m.onCopy != nil {
		m.onCopy(CopyResult{Event: event, Dest: dest, Err: err})
	}
}

// Destination maps path under sourceRoot to the same relative location under
// stagingRoot. Paths outside sourceRoot are rejected.
func Destination(sourceRoot, stagingRoot, path string) (string, error) {
	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, sourceRoot)
	}
	return filepath.Join(stagingRoot, rel), nil
}
