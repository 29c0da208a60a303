package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersAllMetrics(t *testing.T) {
	c := NewCollector()
	require.NotNil(t, c)
	assert.NotNil(t, c.GetRegistry())
}

func TestSetQueueDepthUpdatesGauge(t *testing.T) {
	c := NewCollector()
	c.SetQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(c.queueDepth))
}

func TestIncCommitsAndIncMapFull(t *testing.T) {
	c := NewCollector()
	c.IncCommits()
	c.IncCommits()
	c.IncMapFull()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.commitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.mapFullTotal))
}

func TestObserveCommitDoesNotPanic(t *testing.T) {
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.ObserveCommit(5 * time.Millisecond)
	})
}

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetQueueDepth(1)
		c.IncCommits()
		c.IncMapFull()
		c.ObserveCommit(time.Millisecond)
	})
}
