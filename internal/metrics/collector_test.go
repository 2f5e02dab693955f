package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGeneration("local", "ok", 40*time.Second, 0.044)
	c.RecordGeneration("local", "generation_failed", time.Second, 0)
	c.RecordStage2b("skipped", "stage1_timeout")
	c.RecordFidelity("warn", true, 24)
	c.RecordAudio("synthesized")
	c.RecordHTTPRequest("GET", "/v1/healthz", 200, time.Millisecond)
	c.JobStarted()
	c.JobStarted()
	c.JobFinished()
	c.SetAcceleratorIdle(2)
	c.ObserveSQL("488eabfc", "exec", 3*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationsTotal.WithLabelValues("local", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationsTotal.WithLabelValues("local", "generation_failed")))
	assert.InDelta(t, 0.044, testutil.ToFloat64(c.costUSD.WithLabelValues("local")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stage2bTotal.WithLabelValues("skipped", "stage1_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fidelityTotal.WithLabelValues("warn", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.audioTotal.WithLabelValues("synthesized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/v1/healthz", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.acceleratorIdle))

	assert.Equal(t, 1, testutil.CollectAndCount(c.sqlQueryDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordGeneration("local", "ok", time.Second, 1)
	c.RecordStage("stage1", time.Second)
	c.RecordAudio("silent")
	c.JobStarted()
	c.ObserveSQL("m", "exec", time.Millisecond, nil)
}
