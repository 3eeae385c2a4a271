package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/config"
)

// CreateTempProject creates a project with a src and a public directory.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	files := map[string]string{
		"src/server/main.go":  "package main\n\nfunc main() {}\n",
		"src/client/main.go":  "package main\n\nfunc main() {}\n",
		"public/index.html":   "<!doctype html><html><head><title>app</title></head><body><main>app</main></body></html>",
		"public/favicon.ico":  "icon",
		"public/css/site.css": "body { margin: 0 }",
	}
	for name, content := range files {
		WriteFile(t, tempDir, name, content)
	}

	return tempDir
}

// WriteFile writes content to root/name, creating parent directories.
func WriteFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// CreateTestConfig returns the default configuration rooted at projectDir,
// listening on an ephemeral port.
func CreateTestConfig(projectDir string) *config.Config {
	cfg := config.Default()
	cfg.Paths.Root = projectDir
	cfg.Server.Host = "127.0.0.1"
	return cfg
}
