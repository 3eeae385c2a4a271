// Package errors defines the failure taxonomy of a development session and the
// policy that decides, per failure site, whether the session aborts or keeps
// running.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups failure sites into the categories reported with every
// classified failure.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindMandatoryCopy Kind = "mandatory_copy"
	KindOptionalCopy  Kind = "optional_copy"
	KindCompilerInit  Kind = "compiler_init"
	KindCompileTime   Kind = "compile_time"
	KindListen        Kind = "listen"
	KindMirrorCopy    Kind = "mirror_copy"
)

// Site identifies where in the session a failure happened.
type Site int

const (
	SiteConfigFile Site = iota
	SiteConfigHook
	SiteManifestRemoval
	SiteRuntimeCopy
	SiteSourceCopy
	SitePublicCopy
	SiteCompilerInit
	SiteCompile
	SiteListen
	SiteMirrorCopy
)

var siteNames = map[Site]string{
	SiteConfigFile:      "config_file",
	SiteConfigHook:      "config_hook",
	SiteManifestRemoval: "manifest_removal",
	SiteRuntimeCopy:     "runtime_copy",
	SiteSourceCopy:      "source_copy",
	SitePublicCopy:      "public_copy",
	SiteCompilerInit:    "compiler_init",
	SiteCompile:         "compile",
	SiteListen:          "listen",
	SiteMirrorCopy:      "mirror_copy",
}

// String returns the string representation of the Site
func (s Site) String() string {
	if name, ok := siteNames[s]; ok {
		return name
	}
	return "unknown"
}

// Kind returns the taxonomy bucket for the site.
func (s Site) Kind() Kind {
	switch s {
	case SiteConfigFile, SiteConfigHook:
		return KindConfiguration
	case SiteRuntimeCopy, SiteSourceCopy:
		return KindMandatoryCopy
	case SiteManifestRemoval, SitePublicCopy:
		return KindOptionalCopy
	case SiteCompilerInit:
		return KindCompilerInit
	case SiteCompile:
		return KindCompileTime
	case SiteListen:
		return KindListen
	case SiteMirrorCopy:
		return KindMirrorCopy
	default:
		return KindConfiguration
	}
}

// StageError is a failure tagged with the site that produced it.
type StageError struct {
	Site    Site
	Message string
	Hint    string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Site))
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StageError for the same site.
func (e *StageError) Is(target error) bool {
	var t *StageError
	if errors.As(target, &t) {
		return e.Site == t.Site
	}
	return false
}

// WithHint attaches an actionable message shown to the operator.
func (e *StageError) WithHint(hint string) *StageError {
	e.Hint = hint
	return e
}

// WithPath records the file or directory involved.
func (e *StageError) WithPath(path string) *StageError {
	e.Path = path
	return e
}

// New creates a StageError for site.
func New(site Site, message string, cause error) *StageError {
	return &StageError{
		Site:    site,
		Message: message,
		Cause:   cause,
	}
}

// SiteOf returns the site of err. Errors that never went through New are
// reported as ok == false.
func SiteOf(err error) (Site, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Site, true
	}
	return 0, false
}

// HintOf returns the operator hint carried by err, if any.
func HintOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Hint
	}
	return ""
}

// Helper functions for common errors

// ErrNoSourceDirectory is returned when the project source tree cannot be staged.
func ErrNoSourceDirectory(path string, cause error) *StageError {
	return New(SiteSourceCopy, "no source directory found", cause).
		WithPath(path).
		WithHint("Please create a " + path + " directory in the root of your project")
}

// ErrRuntimeFiles is returned when the embedded runtime support files cannot be staged.
func ErrRuntimeFiles(cause error) *StageError {
	return New(SiteRuntimeCopy, "failed to stage runtime support files", cause).
		WithHint("The stagehand installation looks corrupted; reinstall it")
}

// ErrInvalidConfig is returned for a configuration file that exists but cannot be used.
func ErrInvalidConfig(path string, cause error) *StageError {
	return New(SiteConfigFile, "invalid configuration file", cause).WithPath(path)
}
