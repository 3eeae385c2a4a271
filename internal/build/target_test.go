package build

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	return cfg
}

func TestTargetDisplayName(t *testing.T) {
	assert.Equal(t, "Browser", TargetBrowser.DisplayName())
	assert.Equal(t, "Server", TargetServer.DisplayName())
}

func TestDerive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inspect = true

	browser := Derive(cfg, TargetBrowser)
	assert.Equal(t, TargetBrowser, browser.Target)
	assert.Equal(t, ModeDevelopment, browser.Mode)
	assert.Equal(t, "go", browser.Command)
	assert.Equal(t, cfg.StagingDir(), browser.Dir)
	assert.Equal(t, cfg.StagingSourceDir(), browser.WatchDir)
	assert.Equal(t, filepath.Join(cfg.StagingDir(), "build", "public"), browser.OutputDir)
	assert.Equal(t, "development", browser.Env[EnvKey])
	assert.Equal(t, "js", browser.Env["GOOS"])
	assert.NotContains(t, browser.Env, "INSPECT_ENABLED")

	server := Derive(cfg, TargetServer)
	assert.Equal(t, TargetServer, server.Target)
	assert.Equal(t, filepath.Join(cfg.StagingDir(), "build"), server.OutputDir)
	assert.Equal(t, "true", server.Env["INSPECT_ENABLED"])
	assert.Equal(t, "development", server.Env[EnvKey])
}

func TestDeriveDoesNotShareConfigState(t *testing.T) {
	cfg := testConfig(t)
	browser := Derive(cfg, TargetBrowser)
	browser.Args[0] = "mutated"
	browser.Env["GOOS"] = "linux"

	assert.Equal(t, "build", cfg.Targets.Browser.Args[0])
	assert.Equal(t, "js", cfg.Targets.Browser.Env["GOOS"])
}

func TestEnviron(t *testing.T) {
	tc := TargetConfig{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, tc.Environ())
}

func TestApplyHook(t *testing.T) {
	cfg := testConfig(t)
	draft := Derive(cfg, TargetServer)
	meta := TargetMeta{Target: TargetServer, Dev: true}

	t.Run("nil hook returns draft", func(t *testing.T) {
		got, err := ApplyHook(nil, draft, meta)
		require.NoError(t, err)
		assert.Equal(t, draft, got)
	})

	t.Run("hook receives metadata", func(t *testing.T) {
		var seen TargetMeta
		_, err := ApplyHook(func(d TargetConfig, m TargetMeta) (TargetConfig, error) {
			seen = m
			return d, nil
		}, draft, meta)
		require.NoError(t, err)
		assert.Equal(t, meta, seen)
	})

	t.Run("hook mutation stays local", func(t *testing.T) {
		got, err := ApplyHook(func(d TargetConfig, _ TargetMeta) (TargetConfig, error) {
			d.Args[0] = "vet"
			d.Env["EXTRA"] = "1"
			return d, nil
		}, draft, meta)
		require.NoError(t, err)
		assert.Equal(t, "vet", got.Args[0])
		assert.Equal(t, "build", draft.Args[0])
		assert.NotContains(t, draft.Env, "EXTRA")
	})

	t.Run("hook error", func(t *testing.T) {
		_, err := ApplyHook(func(d TargetConfig, _ TargetMeta) (TargetConfig, error) {
			return d, errors.New("bad config")
		}, draft, meta)
		assert.EqualError(t, err, "bad config")
	})

	t.Run("hook panic", func(t *testing.T) {
		_, err := ApplyHook(func(TargetConfig, TargetMeta) (TargetConfig, error) {
			panic("boom")
		}, draft, meta)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("hook may not change target", func(t *testing.T) {
		_, err := ApplyHook(func(d TargetConfig, _ TargetMeta) (TargetConfig, error) {
			d.Target = TargetBrowser
			return d, nil
		}, draft, meta)
		assert.Error(t, err)
	})
}

func TestOverlayHook(t *testing.T) {
	cfg := testConfig(t)
	modify := config.ModifyConfig{
		Server: &config.TargetSpec{
			Command: "make",
			Args:    []string{"server"},
			Output:  "dist",
			Env:     map[string]string{"CGO_ENABLED": "0"},
		},
	}
	hook := OverlayHook(modify)

	server, err := ApplyHook(hook, Derive(cfg, TargetServer), TargetMeta{Target: TargetServer, Dev: true})
	require.NoError(t, err)
	assert.Equal(t, "make", server.Command)
	assert.Equal(t, []string{"server"}, server.Args)
	assert.Equal(t, filepath.Join(cfg.StagingDir(), "dist"), server.OutputDir)
	assert.Equal(t, "0", server.Env["CGO_ENABLED"])
	assert.Equal(t, "development", server.Env[EnvKey])

	draft := Derive(cfg, TargetBrowser)
	browser, err := ApplyHook(hook, draft, TargetMeta{Target: TargetBrowser, Dev: true})
	require.NoError(t, err)
	assert.Equal(t, draft, browser)
}

func TestChain(t *testing.T) {
	appendArg := func(arg string) Hook {
		return func(d TargetConfig, _ TargetMeta) (TargetConfig, error) {
			d.Args = append(d.Args, arg)
			return d, nil
		}
	}

	got, err := Chain(appendArg("a"), nil, appendArg("b"))(TargetConfig{Target: TargetServer}, TargetMeta{Target: TargetServer})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Args)

	failing := func(d TargetConfig, _ TargetMeta) (TargetConfig, error) { return d, errors.New("stop") }
	_, err = Chain(failing, appendArg("never"))(TargetConfig{}, TargetMeta{})
	assert.EqualError(t, err, "stop")
}
