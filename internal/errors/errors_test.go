package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPolicyTable(t *testing.T) {
	testCases := []struct {
		site     Site
		expected Classification
	}{
		{SiteConfigFile, Fatal},
		{SiteConfigHook, Fatal},
		{SiteManifestRemoval, Ignored},
		{SiteRuntimeCopy, Fatal},
		{SiteSourceCopy, Fatal},
		{SitePublicCopy, Ignored},
		{SiteCompilerInit, Fatal},
		{SiteCompile, Recoverable},
		{SiteListen, Recoverable},
		{SiteMirrorCopy, Recoverable},
		{Site(99), Fatal},
	}

	for _, tc := range testCases {
		t.Run(tc.site.String(), func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.site))
		})
	}
}

func TestSiteKinds(t *testing.T) {
	assert.Equal(t, KindMandatoryCopy, SiteSourceCopy.Kind())
	assert.Equal(t, KindMandatoryCopy, SiteRuntimeCopy.Kind())
	assert.Equal(t, KindOptionalCopy, SitePublicCopy.Kind())
	assert.Equal(t, KindOptionalCopy, SiteManifestRemoval.Kind())
	assert.Equal(t, KindConfiguration, SiteConfigHook.Kind())
	assert.Equal(t, KindCompilerInit, SiteCompilerInit.Kind())
	assert.Equal(t, KindCompileTime, SiteCompile.Kind())
	assert.Equal(t, KindListen, SiteListen.Kind())
	assert.Equal(t, KindMirrorCopy, SiteMirrorCopy.Kind())
}

func TestStageErrorFormatting(t *testing.T) {
	cause := errors.New("stat src: no such file or directory")
	err := ErrNoSourceDirectory("src", cause)

	assert.Equal(t, "[source_copy] src no source directory found: stat src: no such file or directory", err.Error())
	assert.Contains(t, err.Hint, "create a src directory")
	assert.ErrorIs(t, err, cause)
}

func TestStageErrorIsMatchesSite(t *testing.T) {
	a := New(SiteListen, "bind failed", nil)
	b := New(SiteListen, "other", errors.New("x"))
	c := New(SiteCompile, "bind failed", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))

	wrapped := fmt.Errorf("starting: %w", a)
	site, ok := SiteOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, SiteListen, site)
}

func TestClassifyErrorWithoutSiteIsFatal(t *testing.T) {
	assert.Equal(t, Fatal, ClassifyError(errors.New("plain")))
	assert.True(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

type recordingLogger struct {
	debug, warn, error []string
	fields             [][]interface{}
}

func (l *recordingLogger) Debug(_ context.Context, msg string, fields ...interface{}) {
	l.debug = append(l.debug, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Warn(_ context.Context, _ error, msg string, fields ...interface{}) {
	l.warn = append(l.warn, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Error(_ context.Context, _ error, msg string, fields ...interface{}) {
	l.error = append(l.error, msg)
	l.fields = append(l.fields, fields)
}

func fieldValue(fields []interface{}, key string) interface{} {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == key {
			return fields[i+1]
		}
	}
	return nil
}

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) RecordFailure(site, class string) {
	r.counts[site+"/"+class]++
}

func TestClassifierAbsorb(t *testing.T) {
	logger := &recordingLogger{}
	rec := &countingRecorder{counts: map[string]int{}}
	c := NewClassifier(logger, rec)
	ctx := context.Background()

	assert.NoError(t, c.Absorb(ctx, nil))
	assert.NoError(t, c.Absorb(ctx, New(SitePublicCopy, "no public dir", nil)))
	assert.NoError(t, c.Absorb(ctx, New(SiteMirrorCopy, "copy failed", nil)))

	fatal := ErrRuntimeFiles(errors.New("missing"))
	assert.Same(t, fatal, c.Absorb(ctx, fatal))

	assert.Len(t, logger.debug, 1)
	assert.Len(t, logger.warn, 1)
	assert.Len(t, logger.error, 1)
	assert.Equal(t, 1, rec.counts["public_copy/ignored"])
	assert.Equal(t, 1, rec.counts["mirror_copy/recoverable"])
	assert.Equal(t, 1, rec.counts["runtime_copy/fatal"])
}

func TestClassifierLogsSiteKind(t *testing.T) {
	logger := &recordingLogger{}
	c := NewClassifier(logger, nil)
	ctx := context.Background()

	_ = c.Absorb(ctx, New(SitePublicCopy, "no public dir", nil))
	_ = c.Absorb(ctx, New(SiteCompile, "syntax error", nil))
	_ = c.Absorb(ctx, ErrNoSourceDirectory("src", nil))

	require.Len(t, logger.fields, 3)
	assert.Equal(t, "optional_copy", fieldValue(logger.fields[0], "kind"))
	assert.Equal(t, "compile_time", fieldValue(logger.fields[1], "kind"))
	assert.Equal(t, "mandatory_copy", fieldValue(logger.fields[2], "kind"))
	assert.Equal(t, "source_copy", fieldValue(logger.fields[2], "site"))
	assert.NotNil(t, fieldValue(logger.fields[2], "hint"))
}

func TestClassifierWithoutLogger(t *testing.T) {
	c := NewClassifier(nil, nil)
	assert.Error(t, c.Absorb(context.Background(), New(SiteCompilerInit, "bad", nil)))
}
