package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iaserrat/keepalive/internal/probe"
)

func result(ts time.Time, outcome probe.Outcome) probe.Result {
	return probe.Result{Time: ts, Target: "https://example.com", Outcome: outcome}
}

func TestTrackerCountsOutcomes(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	tr := NewTracker(start, 3, 0)

	tr.Record(result(start, probe.OutcomeAlive))
	tr.Record(result(start, probe.OutcomeUnexpectedStatus))
	tr.Record(result(start, probe.OutcomeFailed))
	tr.Record(result(start, probe.OutcomeAlive))

	stats := tr.Snapshot(start.Add(10 * time.Minute))
	require.Equal(t, 4, stats.Probes)
	require.Equal(t, 2, stats.Alive)
	require.Equal(t, 1, stats.Unexpected)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 50.0, stats.SuccessRate())
	require.Equal(t, 10*time.Minute, stats.Runtime)
	require.False(t, stats.Down)
}

func TestTrackerDownAndRecovered(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	tr := NewTracker(start, 3, 0)

	require.Empty(t, tr.Record(result(start, probe.OutcomeFailed)))
	require.Empty(t, tr.Record(result(start.Add(time.Minute), probe.OutcomeUnexpectedStatus)))

	events := tr.Record(result(start.Add(2*time.Minute), probe.OutcomeFailed))
	require.Len(t, events, 1)
	down, ok := events[0].(TargetDown)
	require.True(t, ok)
	require.Equal(t, EventTargetDown, down.Type())
	require.Equal(t, 3, down.ConsecutiveFailures)
	require.Equal(t, start, down.Since, "downtime starts at the first failing probe")

	require.Empty(t, tr.Record(result(start.Add(3*time.Minute), probe.OutcomeFailed)), "down is reported once")
	require.True(t, tr.Snapshot(start).Down)

	events = tr.Record(result(start.Add(5*time.Minute), probe.OutcomeAlive))
	require.Len(t, events, 1)
	rec, ok := events[0].(TargetRecovered)
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, rec.Downtime)
	require.Zero(t, tr.Snapshot(start).ConsecutiveFailures)
}

func TestTrackerShortBlipIsNotDown(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	tr := NewTracker(start, 3, 0)

	tr.Record(result(start, probe.OutcomeFailed))
	tr.Record(result(start, probe.OutcomeFailed))
	require.Empty(t, tr.Record(result(start, probe.OutcomeAlive)))
	require.Empty(t, tr.Record(result(start, probe.OutcomeFailed)))
	require.False(t, tr.Snapshot(start).Down)
}

func TestTrackerSummaryDue(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	tr := NewTracker(start, 3, 2)
	require.False(t, tr.SummaryDue())

	tr.Record(result(start, probe.OutcomeAlive))
	require.False(t, tr.SummaryDue())
	tr.Record(result(start, probe.OutcomeAlive))
	require.True(t, tr.SummaryDue())

	disabled := NewTracker(start, 3, 0)
	disabled.Record(result(start, probe.OutcomeAlive))
	require.False(t, disabled.SummaryDue())
}

func TestStatsSuccessRateWithoutProbes(t *testing.T) {
	t.Parallel()
	require.Zero(t, Stats{}.SuccessRate())
}
