package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	p.RecordWrite("conditional_patch", OutcomeOK, 3*time.Millisecond)
	p.RecordWrite("conditional_patch", OutcomeConflict, time.Millisecond)
	p.RecordWrite("conditional_patch", OutcomeConflict, time.Millisecond)
	p.RecordSelfServe(5, 3, 2)
	p.SetPendingCompensations(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.writes.WithLabelValues("conditional_patch", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.writes.WithLabelValues("conditional_patch", OutcomeConflict)))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.selfServe.WithLabelValues("claimed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.pending))
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "dup")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "dup")
	assert.Error(t, err)
}

func TestNop_SatisfiesCollector(t *testing.T) {
	var c Collector = NewNop()
	c.RecordWrite("x", OutcomeError, 0)
	c.RecordReconcile(1, 2, 3)
}
