package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New("rig-a")

	r.Transition("idle")
	r.Transition("idle")
	r.Transition("trial")
	r.TrialScored("hit", 3)
	r.TagRead(TagRecognized)
	r.TagRead(TagUnrecognized)
	r.TagRead(TagUnrecognized)
	r.InPortTimeout()
	r.TrialFailed()
	r.MaintenanceRun("upload", "permission")
	r.SetPaused(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trials.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.tagReads.WithLabelValues(TagUnrecognized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.inPortTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trialFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.maintenance.WithLabelValues("upload", "permission")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.paused))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Transition("idle")
		r.TrialScored("miss", 0)
		r.TagRead(TagDecodeError)
		r.InPortTimeout()
		r.TrialFailed()
		r.MaintenanceRun("diagnostics", "ok")
		r.SetPaused(false)
	})
}

func TestRecorder_Handler(t *testing.T) {
	r := New("rig-a")
	r.TrialScored("fa", 1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `olfacto_trials_total{rig="rig-a",score="fa"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
