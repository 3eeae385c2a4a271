// Package server implements the development server: it serves the browser
// compiler's output, pushes compile events to connected browsers over a
// websocket and exposes session status and metrics.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/version"
)

// Routes served next to the browser bundle.
const (
	WebSocketPath = "/__stagehand/ws"
	StatusPath    = "/__stagehand/status"
	MetricsPath   = "/__stagehand/metrics"
)

const (
	etagCacheSize   = 512
	shutdownTimeout = 5 * time.Second
)

// Message is sent to every connected browser.
type Message struct {
	Type      string    `json:"type"`
	Session   string    `json:"session,omitempty"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message types.
const (
	MessageHello   = "hello"
	MessageInvalid = "invalid"
	MessageOK      = "ok"
	MessageErrors  = "errors"
)

// Options configures a DevServer.
type Options struct {
	SessionID string
	Logger    logging.Logger
	// Classifier absorbs watch loop failures. Defaults to one logging
	// through Logger.
	Classifier *errors.Classifier
	// Metrics is served on MetricsPath when set.
	Metrics http.Handler
	// Status reports job states on StatusPath.
	Status func() map[string]string
}

// DevServer serves the browser bundle with live reload.
type DevServer struct {
	cfg        *config.Config
	compiler   build.Compiler
	sessionID  string
	logger     logging.Logger
	classifier *errors.Classifier
	metrics    http.Handler
	status     func() map[string]string

	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	done         chan struct{}

	lastStats atomic.Pointer[build.Stats]
	etags     *lru.Cache[string, string]
	addr      atomic.Value

	attachOnce sync.Once
	wg         sync.WaitGroup
}

// New creates a dev server for the browser compiler. Nothing runs until
// Attach or Listen is called.
func New(cfg *config.Config, compiler build.Compiler, opts Options) *DevServer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("devserver")

	etags, _ := lru.New[string, string](etagCacheSize)

	s := &DevServer{
		cfg:        cfg,
		compiler:   compiler,
		sessionID:  opts.SessionID,
		logger:     logger,
		classifier: opts.Classifier,
		metrics:    opts.Metrics,
		status:     opts.Status,
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		etags:      etags,
	}
	if s.classifier == nil {
		s.classifier = errors.NewClassifier(logger, nil)
	}
	return s
}

// Attach starts the websocket hub and drives the browser compiler's watch
// loop until ctx is done. It is safe to call more than once.
func (s *DevServer) Attach(ctx context.Context) {
	s.attachOnce.Do(func() {
		s.compiler.OnInvalid(func() {
			s.broadcastMessage(Message{Type: MessageInvalid, Target: string(s.compiler.Target())})
		})

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.runWebSocketHub(ctx)
		}()
		go func() {
			defer s.wg.Done()
			if err := s.compiler.Watch(ctx, build.WatchOptions{}, s.handleStats); err != nil {
				_ = s.classifier.Absorb(ctx, errors.New(errors.SiteCompile, "browser watch loop stopped", err))
			}
		}()
	})
}

// Listen attaches to the compiler and binds addr in the background. cb is
// called once with nil after a successful bind or with a listen error; a
// bind failure never stops the compiler. The listener is shut down when ctx
// is done.
func (s *DevServer) Listen(ctx context.Context, addr string, cb func(error)) {
	s.Attach(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			if cb != nil {
				cb(errors.New(errors.SiteListen, "failed to bind dev server", err).WithPath(addr))
			}
			return
		}
		s.addr.Store(ln.Addr().String())
		if cb != nil {
			cb(nil)
		}

		httpServer := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.closeClients()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn(context.Background(), err, "Dev server shutdown error")
			}
		}()

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "Dev server stopped")
		}
	}()
}

// Addr returns the bound address, or "" before a successful bind.
func (s *DevServer) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Wait blocks until the hub, the watch loop and the listener have stopped.
func (s *DevServer) Wait() {
	s.wg.Wait()
}

// LastStats returns the most recent browser compile, if any.
func (s *DevServer) LastStats() (build.Stats, bool) {
	stats := s.lastStats.Load()
	if stats == nil {
		return build.Stats{}, false
	}
	return *stats, true
}

// Handler returns the dev server's routes.
func (s *DevServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	mux.HandleFunc(StatusPath, s.handleStatus)
	mux.HandleFunc(ReloadScriptPath, s.handleReloadScript)
	if s.metrics != nil {
		mux.Handle(MetricsPath, s.metrics)
	}
	mux.HandleFunc("/", s.handleStatic)
	return s.logRequests(securityHeaders(mux))
}

func (s *DevServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if !strings.HasPrefix(r.URL.Path, WebSocketPath) {
			s.logger.Debug(r.Context(), "Request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		}
	})
}

func (s *DevServer) handleStats(stats build.Stats) {
	s.lastStats.Store(&stats)

	if stats.HasErrors() {
		var lines []string
		for _, d := range stats.Diagnostics {
			lines = append(lines, d.String())
		}
		content := strings.Join(lines, "\n")
		if content == "" {
			content = stats.Output
		}
		if content == "" {
			content = stats.Err.Error()
		}
		s.broadcastMessage(Message{Type: MessageErrors, Target: string(stats.Target), Content: content})
		return
	}

	s.logger.Info(context.Background(), "Browser bundle ready", "duration", stats.Duration)
	s.broadcastMessage(Message{Type: MessageOK, Target: string(stats.Target)})
}

func (s *DevServer) broadcastMessage(msg Message) {
	msg.Session = s.sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to marshal message", "type", msg.Type)
		return
	}

	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

// StatusResponse is the body of StatusPath.
type StatusResponse struct {
	Session     string            `json:"session"`
	Version     string            `json:"version"`
	Jobs        map[string]string `json:"jobs"`
	Clients     int               `json:"clients"`
	LastCompile *CompileStatus    `json:"last_compile,omitempty"`
}

// CompileStatus summarizes the last browser compile.
type CompileStatus struct {
	Target      string             `json:"target"`
	OK          bool               `json:"ok"`
	Duration    string             `json:"duration"`
	Error       string             `json:"error,omitempty"`
	Diagnostics []build.Diagnostic `json:"diagnostics,omitempty"`
}

func (s *DevServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StatusResponse{
		Session: s.sessionID,
		Version: version.GetShortVersion(),
		Jobs:    map[string]string{},
		Clients: s.clientCount(),
	}
	if s.status != nil {
		response.Jobs = s.status()
	}
	if stats, ok := s.LastStats(); ok {
		cs := &CompileStatus{
			Target:      string(stats.Target),
			OK:          !stats.HasErrors(),
			Duration:    stats.Duration.String(),
			Diagnostics: stats.Diagnostics,
		}
		if stats.Err != nil {
			cs.Error = stats.Err.Error()
		}
		response.LastCompile = cs
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode status response")
	}
}
