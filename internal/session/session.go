// Package session runs one development session: it stages the project,
// starts both compilation jobs, attaches the dev server to the browser job
// and mirrors source edits into the staging tree until the context ends.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/metrics"
	"github.com/conneroisu/stagehand/internal/mirror"
	"github.com/conneroisu/stagehand/internal/server"
	"github.com/conneroisu/stagehand/internal/staging"
)

// Options configures a Session. Zero values select the OS filesystem, the
// command bundler, a fresh metrics registry and os.Getenv.
type Options struct {
	Fs       afero.Fs
	Bundler  build.Bundler
	Hook     build.Hook
	Logger   logging.Logger
	Registry *prometheus.Registry
	Getenv   func(string) string
	// OnMirrorCopy observes every mirror copy attempt.
	OnMirrorCopy func(mirror.CopyResult)
	// OnListen observes the dev server bind outcome.
	OnListen func(error)
}

// Session is a single run of the development orchestrator.
type Session struct {
	id         string
	cfg        *config.Config
	opts       Options
	logger     logging.Logger
	recorder   *metrics.Recorder
	classifier *errors.Classifier

	mu          sync.RWMutex
	coordinator *build.Coordinator
	devServer   *server.DevServer
	mirror      *mirror.Mirror
	ready       chan struct{}
}

// New creates a session for cfg. cfg must not be modified afterwards.
func New(cfg *config.Config, opts Options) *Session {
	id := uuid.NewString()

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("session", id)

	recorder := metrics.NewRecorder(opts.Registry)
	if opts.Bundler == nil {
		opts.Bundler = &build.CommandBundler{Logger: logger, Recorder: recorder}
	}

	return &Session{
		id:         id,
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		recorder:   recorder,
		classifier: errors.NewClassifier(logger, recorder),
		ready:      make(chan struct{}),
	}
}

// ID returns the session identifier sent to browsers and logged on every line.
func (s *Session) ID() string { return s.id }

// Ready is closed once every activity of the session has been started.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Coordinator returns the job coordinator once compilation has started.
func (s *Session) Coordinator() *build.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinator
}

// DevServer returns the dev server once it has been created.
func (s *Session) DevServer() *server.DevServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devServer
}

// Addr returns the dev server address the session binds.
func (s *Session) Addr() string {
	port := config.ResolvePort(s.opts.Getenv("PORT"), s.cfg.Server.Port)
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(port))
}

// Run executes the session until ctx is done. It returns a non-nil error
// only for a fatal failure; compile errors, bind failures and mirror copy
// failures are logged and the session keeps running. Ending ctx at any point,
// staging included, is a clean stop.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Compiling...")

	perf := logging.StartOperation(s.logger, "staging")
	manager := staging.NewManager(s.cfg, staging.Options{
		Fs:         s.opts.Fs,
		Logger:     s.logger,
		Classifier: s.classifier,
		Recorder:   s.recorder,
	})
	if _, err := manager.Stage(ctx); err != nil {
		if interrupted(ctx, err) {
			s.logger.Info(context.Background(), "Interrupted during staging")
			return nil
		}
		return err
	}
	perf.End(ctx)

	coordinator := build.NewCoordinator(s.cfg, build.CoordinatorOptions{
		Bundler:    s.opts.Bundler,
		Hook:       build.Chain(build.OverlayHook(s.cfg.Modify), s.opts.Hook),
		Logger:     s.logger,
		Classifier: s.classifier,
	})
	s.mu.Lock()
	s.coordinator = coordinator
	s.mu.Unlock()

	browser, err := coordinator.Start(ctx)
	if err != nil {
		if interrupted(ctx, err) {
			return nil
		}
		return err
	}

	devServer := server.New(s.cfg, browser.Compiler(), server.Options{
		SessionID:  s.id,
		Logger:     s.logger,
		Classifier: s.classifier,
		Metrics:    s.recorder.Handler(),
		Status:     coordinator.Status,
	})
	s.mu.Lock()
	s.devServer = devServer
	s.mu.Unlock()

	addr := s.Addr()
	devServer.Listen(ctx, addr, func(err error) {
		if err != nil {
			_ = s.classifier.Absorb(ctx, err)
		} else {
			s.logger.Info(ctx, "Dev server listening", "url", fmt.Sprintf("http://%s", devServer.Addr()))
		}
		if s.opts.OnListen != nil {
			s.opts.OnListen(err)
		}
	})

	m, err := mirror.New(s.cfg, mirror.Options{
		Fs:         s.opts.Fs,
		Logger:     s.logger,
		Classifier: s.classifier,
		Recorder:   s.recorder,
		OnCopy:     s.opts.OnMirrorCopy,
	})
	if err == nil {
		err = m.Start(ctx)
	}
	if err != nil {
		if _, ok := errors.SiteOf(err); !ok {
			err = errors.New(errors.SiteMirrorCopy, "failed to start source mirror", err)
		}
		_ = s.classifier.Absorb(ctx, err)
	} else {
		s.mu.Lock()
		s.mirror = m
		s.mu.Unlock()
	}

	close(s.ready)

	<-ctx.Done()
	s.logger.Info(context.Background(), "Shutting down")
	coordinator.Wait()
	devServer.Wait()
	return nil
}

// interrupted reports whether err only reflects ctx ending.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && stderrors.Is(err, ctx.Err())
}
