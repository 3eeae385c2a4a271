package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/config"
	stageerrors "github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/metrics"
	"github.com/conneroisu/stagehand/internal/testutils"
)

type fixture struct {
	cfg      *config.Config
	compiler *testutils.FakeCompiler
	server   *DevServer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	cfg := testutils.CreateTestConfig(testutils.CreateTempProject(t))
	compiler := testutils.NewFakeCompiler(build.Derive(cfg, build.TargetBrowser))
	if opts.SessionID == "" {
		opts.SessionID = "test-session"
	}
	return &fixture{
		cfg:      cfg,
		compiler: compiler,
		server:   New(cfg, compiler, opts),
	}
}

// attach starts the server's hub and watch loop and waits for the first
// compile.
func (f *fixture) attach(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.server.Attach(ctx)
	select {
	case <-f.compiler.Watching():
	case <-time.After(2 * time.Second):
		t.Fatal("browser compiler never started watching")
	}
	require.Eventually(t, func() bool {
		_, ok := f.server.LastStats()
		return ok
	}, time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		f.server.Wait()
	})
	return cancel
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServesBundleOutputFirst(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.compiler.OutputDir(), "index.html", "<html><body><div id=app></div></body></html>")
	testutils.WriteFile(t, f.compiler.OutputDir(), "app.js", "console.log('bundle')")
	testutils.WriteFile(t, f.cfg.StagingPublicDir(), "index.html", "<html><body>public</body></html>")

	h := f.server.Handler()

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<div id="app">`)
	assert.Contains(t, rec.Body.String(), `<script src="`+ReloadScriptPath+`" defer=""></script></body>`)
	assert.NotContains(t, rec.Body.String(), "public")

	rec = get(t, h, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('bundle')", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestServesStagedPublicAssets(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.cfg.StagingPublicDir(), "css/site.css", "body { margin: 0 }")

	rec := get(t, f.server.Handler(), "/css/site.css")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body { margin: 0 }", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestETagRevalidation(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.compiler.OutputDir(), "app.wasm", "wasm-bytes")
	h := f.server.Handler()

	first := get(t, h, "/app.wasm")
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := get(t, h, "/app.wasm", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Equal(t, 1, f.server.etags.Len())
}

func TestShellFallbackAndNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	h := f.server.Handler()

	rec := get(t, h, "/dashboard/settings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "WebAssembly.instantiateStreaming")
	assert.Contains(t, rec.Body.String(), ReloadScriptPath)

	rec = get(t, h, "/missing.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/../../etc/passwd")
	assert.NotContains(t, rec.Body.String(), "root:")

	rec = get(t, h, "/__stagehand/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadScriptRoute(t *testing.T) {
	f := newFixture(t, Options{})
	rec := get(t, f.server.Handler(), ReloadScriptPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "/__stagehand/ws")
}

func TestErrorOverlayAfterFailedCompile(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.compiler.OutputDir(), "index.html", "<html><body>app</body></html>")
	testutils.WriteFile(t, f.compiler.OutputDir(), "app.js", "ok")
	f.compiler.SetError(errors.New("src/client/main.go:7:3: undefined: <Widget>"))
	f.attach(t)

	rec := get(t, f.server.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Browser compile failed")
	assert.Contains(t, body, "undefined: &lt;Widget&gt;")
	assert.Contains(t, body, ReloadScriptPath)

	// Assets are still served while the overlay is up.
	rec = get(t, f.server.Handler(), "/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.compiler.SetError(nil)
	f.compiler.Trigger()
	require.Eventually(t, func() bool {
		stats, _ := f.server.LastStats()
		return !stats.HasErrors()
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, get(t, f.server.Handler(), "/").Body.String(), "app")
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t, Options{
		Status: func() map[string]string {
			return map[string]string{"browser": "watching", "server": "failed-transient"}
		},
	})
	f.attach(t)

	rec := get(t, f.server.Handler(), StatusPath)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "test-session", status.Session)
	assert.Equal(t, "failed-transient", status.Jobs["server"])
	require.NotNil(t, status.LastCompile)
	assert.True(t, status.LastCompile.OK)
	assert.Equal(t, "browser", status.LastCompile.Target)
}

func TestMetricsRoute(t *testing.T) {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	recorder.ObserveCompile("browser", time.Second, nil)

	f := newFixture(t, Options{Metrics: recorder.Handler()})
	rec := get(t, f.server.Handler(), MetricsPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stagehand_compiles_total")

	withoutMetrics := newFixture(t, Options{})
	rec = get(t, withoutMetrics.server.Handler(), MetricsPath)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestListenServesRequests(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.compiler.OutputDir(), "index.html", "<html><body>live</body></html>")

	ctx, cancel := context.WithCancel(context.Background())
	bound := make(chan error, 1)
	f.server.Listen(ctx, "127.0.0.1:0", func(err error) { bound <- err })

	select {
	case err := <-bound:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen callback never ran")
	}
	require.NotEmpty(t, f.server.Addr())

	resp, err := http.Get("http://" + f.server.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "live")

	cancel()
	done := make(chan struct{})
	go func() {
		f.server.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dev server did not stop")
	}
}

func TestListenBindFailureIsRecoverable(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		f.server.Wait()
	}()

	bound := make(chan error, 1)
	f.server.Listen(ctx, occupied.Addr().String(), func(err error) { bound <- err })

	var bindErr error
	select {
	case bindErr = <-bound:
	case <-time.After(2 * time.Second):
		t.Fatal("listen callback never ran")
	}
	require.Error(t, bindErr)
	site, ok := stageerrors.SiteOf(bindErr)
	require.True(t, ok)
	assert.Equal(t, stageerrors.SiteListen, site)
	assert.False(t, stageerrors.IsFatal(bindErr))
	assert.Empty(t, f.server.Addr())

	// The browser compiler keeps watching without a listener.
	select {
	case <-f.compiler.Watching():
	case <-time.After(2 * time.Second):
		t.Fatal("browser compiler stopped after bind failure")
	}
	f.compiler.Trigger()
	require.Eventually(t, func() bool { return f.compiler.Compiles() >= 2 }, time.Second, 10*time.Millisecond)
}

func TestStaticRootsOrder(t *testing.T) {
	f := newFixture(t, Options{})
	roots := f.server.staticRoots()
	require.Len(t, roots, 2)
	assert.Equal(t, filepath.Join(f.cfg.StagingDir(), "build", "public"), roots[0])
	assert.Equal(t, f.cfg.StagingPublicDir(), roots[1])
}

func TestDevelopmentHeaders(t *testing.T) {
	f := newFixture(t, Options{})
	testutils.WriteFile(t, f.cfg.StagingPublicDir(), "css/site.css", "body {}")

	rec := get(t, f.server.Handler(), "/css/site.css")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}
