package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetRunnerState(t *testing.T) {
	states := []string{"idle", "checking", "alerting"}

	SetRunnerState("checking", states)
	assert.Equal(t, 0.0, testutil.ToFloat64(RunnerState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RunnerState.WithLabelValues("checking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RunnerState.WithLabelValues("alerting")))

	SetRunnerState("idle", states)
	assert.Equal(t, 1.0, testutil.ToFloat64(RunnerState.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RunnerState.WithLabelValues("checking")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(VerdictsTotal.WithLabelValues("confirmed"))
	VerdictsTotal.WithLabelValues("confirmed").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(VerdictsTotal.WithLabelValues("confirmed")))
}
