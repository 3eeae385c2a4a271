package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)

	r.ObserveCompile("browser", 10*time.Millisecond, nil)
	r.ObserveCompile("browser", 10*time.Millisecond, errors.New("syntax"))
	r.ObserveCompile("server", 5*time.Millisecond, nil)
	r.RecordMirrorCopy(nil)
	r.RecordMirrorCopy(nil)
	r.RecordMirrorCopy(errors.New("gone"))
	r.RecordFailure("listen", "recoverable")
	r.ObserveStagingStep("source_copy", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.compiles.WithLabelValues("browser", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.compiles.WithLabelValues("browser", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.compiles.WithLabelValues("server", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.mirrorCopies.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mirrorCopies.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("listen", "recoverable")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveCompile("browser", time.Second, nil)
		r.RecordMirrorCopy(nil)
		r.RecordFailure("x", "y")
		r.ObserveStagingStep("x", time.Second, nil)
	})
	assert.Nil(t, r.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordMirrorCopy(nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stagehand_mirror_copies_total")
}
