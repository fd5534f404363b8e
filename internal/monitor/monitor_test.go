package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iaserrat/keepalive/internal/diagnose"
	"github.com/iaserrat/keepalive/internal/logging"
	"github.com/iaserrat/keepalive/internal/probe"
)

var probeLine = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} - Ping #\d+ to \S+: .+$`)

type scriptProber struct {
	mu       sync.Mutex
	outcomes []probe.Outcome
	calls    int
}

func (p *scriptProber) Probe(ctx context.Context) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	outcome := p.outcomes[len(p.outcomes)-1]
	if p.calls < len(p.outcomes) {
		outcome = p.outcomes[p.calls]
	}
	p.calls++

	res := probe.Result{Time: time.Now(), Target: "https://example.com", Method: "script", Outcome: outcome}
	switch outcome {
	case probe.OutcomeAlive:
		res.StatusCode = 200
	case probe.OutcomeUnexpectedStatus:
		res.StatusCode = 503
	default:
		res.Failure = probe.FailureRefused
		res.Detail = "connection refused"
	}
	return res
}

func newSink(t *testing.T) (*logging.Sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.log")
	sink, err := logging.NewSink(logging.SinkConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func probeLines(t *testing.T, path string) []string {
	t.Helper()
	var out []string
	for _, l := range readLines(t, path) {
		if strings.Contains(l, " - Ping #") {
			require.Regexp(t, probeLine, l)
			out = append(out, l)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Target:     "https://example.com",
		Interval:   5 * time.Minute,
		Timeout:    15 * time.Second,
		StatsEvery: 0,
		DownAfter:  3,
	}
}

func TestProbeOnceLogsOneLine(t *testing.T) {
	t.Parallel()

	sink, path := newSink(t)
	m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}, sink)

	res, err := m.ProbeOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, probe.OutcomeAlive, res.Outcome)

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	require.Regexp(t, probeLine, lines[0])
	require.True(t, strings.HasSuffix(lines[0], "Ping #1 to https://example.com: Server alive (Status: 200)"))
}

func TestRunSingleIgnoresProbeFailures(t *testing.T) {
	t.Parallel()

	for _, outcome := range []probe.Outcome{probe.OutcomeAlive, probe.OutcomeUnexpectedStatus, probe.OutcomeFailed} {
		t.Run(string(outcome), func(t *testing.T) {
			t.Parallel()

			sink, path := newSink(t)
			m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{outcome}}, sink)

			require.NoError(t, m.RunSingle(context.Background()))
			require.Len(t, probeLines(t, path), 1)
		})
	}
}

func TestRunSingleAgainstUnreachableHost(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := "http://" + ln.Addr().String() + "/"
	require.NoError(t, ln.Close())

	sink, path := newSink(t)
	p := probe.NewHTTPProber(probe.HTTPConfig{URL: target, Timeout: time.Second, Accepted: probe.NewStatusSet(200)})
	cfg := testConfig()
	cfg.Target = target
	m := New(cfg, p, sink)

	require.NoError(t, m.RunSingle(context.Background()))
	lines := probeLines(t, path)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "Connection error - server might be down")
}

func TestRunSingleReturnsSinkErrors(t *testing.T) {
	t.Parallel()

	sink, _ := newSink(t)
	require.NoError(t, sink.Close())

	m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}, sink)
	require.Error(t, m.RunSingle(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	sink, path := newSink(t)
	m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	m.after = func(d time.Duration) <-chan time.Time {
		require.Equal(t, 5*time.Minute, d)
		sleeps++
		ch := make(chan time.Time, 1)
		if sleeps >= 2 {
			cancel()
			return ch
		}
		ch <- time.Now()
		return ch
	}

	require.NoError(t, m.Run(ctx))
	require.Len(t, probeLines(t, path), 2)

	lines := readLines(t, path)
	require.Contains(t, lines[0], "Starting server keep-alive monitor")
	require.Contains(t, strings.Join(lines, "\n"), "Monitor stopped by user")
	require.Contains(t, strings.Join(lines, "\n"), "Total pings: 2")
	require.Contains(t, lines[len(lines)-1], "Monitor ended")
}

func TestRunAlreadyCancelledDoesNotProbe(t *testing.T) {
	t.Parallel()

	sink, path := newSink(t)
	prober := &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}
	m := New(testConfig(), prober, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.Run(ctx))
	require.Zero(t, prober.calls)
	require.Empty(t, probeLines(t, path))
}

func TestRunProbeCountOverTime(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink, path := newSink(t)
	cfg := testConfig()
	cfg.Target = srv.URL
	cfg.Interval = 100 * time.Millisecond
	p := probe.NewHTTPProber(probe.HTTPConfig{URL: srv.URL, Timeout: time.Second, Accepted: probe.NewStatusSet(200)})
	m := New(cfg, p, sink)

	// Just over two intervals.
	ctx, cancel := context.WithTimeout(context.Background(), 210*time.Millisecond)
	defer cancel()

	require.NoError(t, m.Run(ctx))

	n := len(probeLines(t, path))
	require.GreaterOrEqual(t, n, 2)
	require.LessOrEqual(t, n, 3)
}

func TestRunHonoursDuration(t *testing.T) {
	t.Parallel()

	sink, path := newSink(t)
	cfg := testConfig()
	cfg.Duration = 10 * time.Minute
	m := New(cfg, &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}, sink)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	m.after = func(d time.Duration) <-chan time.Time {
		now = now.Add(d)
		ch := make(chan time.Time, 1)
		ch <- now
		return ch
	}

	require.NoError(t, m.Run(context.Background()))
	require.Len(t, probeLines(t, path), 2)
	require.Contains(t, strings.Join(readLines(t, path), "\n"), "Scheduled duration completed")
}

func TestRunLogsPeriodicStatsAndTransitions(t *testing.T) {
	t.Parallel()

	sink, path := newSink(t)
	cfg := testConfig()
	cfg.StatsEvery = 2
	cfg.DownAfter = 2
	prober := &scriptProber{outcomes: []probe.Outcome{
		probe.OutcomeAlive,
		probe.OutcomeFailed,
		probe.OutcomeUnexpectedStatus,
		probe.OutcomeAlive,
	}}
	m := New(cfg, prober, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	m.after = func(time.Duration) <-chan time.Time {
		sleeps++
		ch := make(chan time.Time, 1)
		if sleeps >= 4 {
			cancel()
			return ch
		}
		ch <- time.Now()
		return ch
	}

	require.NoError(t, m.Run(ctx))

	log := strings.Join(readLines(t, path), "\n")
	require.Len(t, probeLines(t, path), 4)
	require.Equal(t, 2, strings.Count(log, "Stats: "))
	require.Contains(t, log, "Stats: 2 pings, 50.0% success")
	require.Contains(t, log, "Target down after 2 consecutive failed pings")
	require.Contains(t, log, "Target recovered after")
	require.Contains(t, log, "Success rate: 50.0%")

	stats := m.Stats()
	require.Equal(t, 4, stats.Probes)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Unexpected)
}

func TestRunReturnsSinkError(t *testing.T) {
	t.Parallel()

	sink, _ := newSink(t)
	m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{probe.OutcomeAlive}}, sink)
	require.NoError(t, sink.Close())

	err := m.Run(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestRecordsAndDiagnostics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	records, err := logging.New(logging.Config{
		Dir:         dir,
		MaxMB:       1,
		MaxFiles:    1,
		ToolName:    "keepalive",
		ToolVersion: "test",
		HostID:      "host",
		RunID:       "run",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	sink, _ := newSink(t)
	diag := diagnose.New(diagnose.Config{Timeout: time.Second, Cooldown: time.Hour})
	m := New(testConfig(), &scriptProber{outcomes: []probe.Outcome{probe.OutcomeFailed}}, sink,
		WithRecords(records),
		WithDiagnoser(diag),
	)

	require.NoError(t, m.RunSingle(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "keepalive.jsonl"))
	require.NoError(t, err)
	out := string(data)
	for _, typ := range []string{`"type":"monitor_start"`, `"type":"probe"`, `"type":"diagnostic"`, `"type":"monitor_stop"`} {
		require.Contains(t, out, typ)
	}
	require.Contains(t, out, `"outcome":"failed"`)
	require.Contains(t, out, `"host":"example.com"`)
}
