package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/stagehand/internal/runtime"
)

func (s *DevServer) handleReloadScript(w http.ResponseWriter, r *http.Request) {
	script, err := runtime.ReadReloadScript()
	if err != nil {
		http.Error(w, "reload client unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(script)
}

// staticRoots lists the directories searched for a request path, in order:
// the browser bundle output, then the staged public assets.
func (s *DevServer) staticRoots() []string {
	return []string{s.compiler.OutputDir(), s.cfg.StagingPublicDir()}
}

func (s *DevServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	if name == "/" {
		name = "/index.html"
	}
	if strings.HasPrefix(name, "/__stagehand/") {
		http.NotFound(w, r)
		return
	}

	if stats, ok := s.LastStats(); ok && stats.HasErrors() && isPageRequest(name) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := ErrorOverlay(stats).Render(r.Context(), w); err != nil {
			s.logger.Warn(r.Context(), err, "Failed to render error overlay")
		}
		return
	}

	for _, root := range s.staticRoots() {
		file := filepath.Join(root, filepath.FromSlash(name))
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		s.serveFile(w, r, file, info)
		return
	}

	// Client-side routes fall back to the shell page.
	if isPageRequest(name) {
		s.serveShell(w, r)
		return
	}

	http.NotFound(w, r)
}

// isPageRequest reports whether name looks like a document rather than an
// asset.
func isPageRequest(name string) bool {
	ext := path.Ext(name)
	return ext == "" || ext == ".html" || ext == ".htm"
}

func (s *DevServer) serveFile(w http.ResponseWriter, r *http.Request, file string, info os.FileInfo) {
	data, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	if isHTML(file) {
		s.writeHTML(w, r, data)
		return
	}

	w.Header().Set("ETag", s.etag(file, info, data))
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
}

func (s *DevServer) serveShell(w http.ResponseWriter, r *http.Request) {
	shell, err := fs.ReadFile(runtime.FS(), runtime.Shell)
	if err != nil {
		http.Error(w, "shell page unavailable", http.StatusInternalServerError)
		return
	}
	s.writeHTML(w, r, shell)
}

func (s *DevServer) writeHTML(w http.ResponseWriter, r *http.Request, doc []byte) {
	injected, err := InjectReloadScript(doc, ReloadScriptPath)
	if err != nil {
		s.logger.Warn(r.Context(), err, "Serving page without reload client", "path", r.URL.Path)
		injected = doc
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(injected)
}

// etag returns the content hash of file, cached by path, modification time
// and size.
func (s *DevServer) etag(file string, info os.FileInfo, data []byte) string {
	key := fmt.Sprintf("%s|%d|%d", file, info.ModTime().UnixNano(), info.Size())
	if tag, ok := s.etags.Get(key); ok {
		return tag
	}

	sum := sha256.Sum256(data)
	tag := `"` + hex.EncodeToString(sum[:8]) + `"`
	s.etags.Add(key, tag)
	return tag
}

func isHTML(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".html" || ext == ".htm"
}
