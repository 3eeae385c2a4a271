// Package build coordinates the two incremental compilations of a development
// session: a browser bundle served by the dev server and a server bundle
// rebuilt quietly in the background.
package build

import (
	"fmt"
	"path/filepath"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/stagehand/internal/config"
)

// Target is the kind of bundle a compilation produces.
type Target string

const (
	TargetBrowser Target = "browser"
	TargetServer  Target = "server"
)

// Targets lists every target in start order.
var Targets = []Target{TargetServer, TargetBrowser}

// DisplayName returns the target name for log lines and the status page.
func (t Target) DisplayName() string {
	return cases.Title(language.English).String(string(t))
}

// Mode is the build mode handed to compilers.
type Mode string

const ModeDevelopment Mode = "development"

// EnvKey is set in the environment of every compile.
const EnvKey = "STAGEHAND_ENV"

// TargetConfig is the fully derived configuration for one compiler.
type TargetConfig struct {
	Target  Target
	Mode    Mode
	Command string
	Args    []string
	Env     map[string]string
	// Dir is the working directory of every compile: the staging root.
	Dir string
	// WatchDir is the staged source tree the compiler watches.
	WatchDir string
	// OutputDir receives the compiled bundle.
	OutputDir string
}

// Clone returns a deep copy so a hook cannot mutate shared slices or maps.
func (tc TargetConfig) Clone() TargetConfig {
	out := tc
	out.Args = append([]string(nil), tc.Args...)
	out.Env = make(map[string]string, len(tc.Env))
	for k, v := range tc.Env {
		out.Env[k] = v
	}
	return out
}

// Environ returns Env as sorted KEY=value pairs.
func (tc TargetConfig) Environ() []string {
	keys := make([]string, 0, len(tc.Env))
	for k := range tc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+tc.Env[k])
	}
	return env
}

// TargetMeta is passed to a Hook alongside the draft configuration.
type TargetMeta struct {
	Target Target
	Dev    bool
}

// Hook transforms the draft configuration of one target. It must not retain
// or mutate anything outside the value it returns.
type Hook func(draft TargetConfig, meta TargetMeta) (TargetConfig, error)

// Derive builds the draft configuration for target from cfg.
func Derive(cfg *config.Config, target Target) TargetConfig {
	var spec config.TargetSpec
	switch target {
	case TargetBrowser:
		spec = cfg.Targets.Browser
	case TargetServer:
		spec = cfg.Targets.Server
	}

	stagingDir := cfg.StagingDir()
	tc := TargetConfig{
		Target:    target,
		Mode:      ModeDevelopment,
		Command:   spec.Command,
		Args:      append([]string(nil), spec.Args...),
		Env:       map[string]string{EnvKey: string(ModeDevelopment)},
		Dir:       stagingDir,
		WatchDir:  cfg.StagingSourceDir(),
		OutputDir: filepath.Join(stagingDir, spec.Output),
	}
	for k, v := range spec.Env {
		tc.Env[k] = v
	}
	if target == TargetServer && cfg.Inspect {
		tc.Env["INSPECT_ENABLED"] = "true"
	}

	return tc
}

// ApplyHook runs hook on a copy of draft. A panic inside the hook is
// returned as an error.
func ApplyHook(hook Hook, draft TargetConfig, meta TargetMeta) (result TargetConfig, err error) {
	if hook == nil {
		return draft, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked for %s target: %v", meta.Target, r)
		}
	}()

	result, err = hook(draft.Clone(), meta)
	if err != nil {
		return TargetConfig{}, err
	}
	if result.Target != meta.Target {
		return TargetConfig{}, fmt.Errorf("hook changed target from %s to %s", meta.Target, result.Target)
	}
	return result, nil
}

// Chain composes hooks left to right. Nil hooks are skipped.
func Chain(hooks ...Hook) Hook {
	return func(draft TargetConfig, meta TargetMeta) (TargetConfig, error) {
		current := draft
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			next, err := hook(current, meta)
			if err != nil {
				return TargetConfig{}, err
			}
			current = next
		}
		return current, nil
	}
}

// OverlayHook returns a hook that applies the modify section of the
// configuration file. Non-empty fields replace the draft's, and env entries
// are merged.
func OverlayHook(modify config.ModifyConfig) Hook {
	return func(draft TargetConfig, meta TargetMeta) (TargetConfig, error) {
		var overlay *config.TargetSpec
		switch meta.Target {
		case TargetBrowser:
			overlay = modify.Browser
		case TargetServer:
			overlay = modify.Server
		}
		if overlay == nil {
			return draft, nil
		}

		if overlay.Command != "" {
			draft.Command = overlay.Command
		}
		if len(overlay.Args) > 0 {
			draft.Args = append([]string(nil), overlay.Args...)
		}
		if overlay.Output != "" {
			draft.OutputDir = filepath.Join(draft.Dir, overlay.Output)
		}
		if draft.Env == nil {
			draft.Env = make(map[string]string, len(overlay.Env))
		}
		for k, v := range overlay.Env {
			draft.Env[k] = v
		}
		return draft, nil
	}
}
