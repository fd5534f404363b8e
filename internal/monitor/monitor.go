// Package monitor drives the probe, log, sleep cycle.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-hclog"

	"github.com/iaserrat/keepalive/internal/diagnose"
	"github.com/iaserrat/keepalive/internal/logging"
	"github.com/iaserrat/keepalive/internal/metrics"
	"github.com/iaserrat/keepalive/internal/probe"
)

const (
	ModeSingle     = "single"
	ModeContinuous = "continuous"
)

type Config struct {
	Target     string
	Interval   time.Duration
	Timeout    time.Duration
	Duration   time.Duration
	StatsEvery int
	DownAfter  int
}

// Monitor owns one target. All logging goes through the sink; a sink error
// is the only error it returns.
type Monitor struct {
	cfg       Config
	prober    probe.Prober
	sink      *logging.Sink
	records   *logging.Logger
	diagnoser *diagnose.Diagnoser
	logger    hclog.Logger
	tracker   *metrics.Tracker

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	count int
}

type Option func(*Monitor)

// WithRecords enables the JSONL record stream.
func WithRecords(l *logging.Logger) Option {
	return func(m *Monitor) { m.records = l }
}

func WithDiagnoser(d *diagnose.Diagnoser) Option {
	return func(m *Monitor) { m.diagnoser = d }
}

func WithLogger(l hclog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func New(cfg Config, prober probe.Prober, sink *logging.Sink, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		prober: prober,
		sink:   sink,
		logger: hclog.NewNullLogger(),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tracker = metrics.NewTracker(m.now(), cfg.DownAfter, cfg.StatsEvery)

	return m
}

// ProbeOnce performs exactly one probe and logs exactly one line for it.
func (m *Monitor) ProbeOnce(ctx context.Context) (probe.Result, error) {
	m.count++
	res := m.prober.Probe(ctx)

	if err := m.sink.Line("Ping #%d to %s: %s", m.count, m.cfg.Target, res.Message()); err != nil {
		return res, err
	}
	m.logger.Debug("probe finished",
		"number", m.count,
		"method", res.Method,
		"outcome", res.Outcome,
		"detail", res.Detail,
		"latency", res.Latency,
	)
	m.emit(&logging.ProbeRecord{
		BaseEvent:   logging.BaseEvent{Type: "probe", Target: m.cfg.Target},
		ProbeNumber: m.count,
		Method:      res.Method,
		Outcome:     string(res.Outcome),
		StatusCode:  res.StatusCode,
		Failure:     string(res.Failure),
		Detail:      res.Detail,
		LatencyMs:   float64(res.Latency.Microseconds()) / 1000,
	})

	for _, e := range m.tracker.Record(res) {
		if err := m.logTransition(e); err != nil {
			return res, err
		}
	}

	if res.Outcome == probe.OutcomeFailed && res.Failure != probe.FailureInterrupted {
		m.diagnose(ctx)
	}

	return res, nil
}

// RunSingle probes once for an external scheduler. Probe failures are
// reported through the log, never as an error.
func (m *Monitor) RunSingle(ctx context.Context) error {
	m.emitLifecycle("monitor_start", ModeSingle, "")
	_, err := m.ProbeOnce(ctx)
	m.emitLifecycle("monitor_stop", ModeSingle, "single probe")
	return err
}

// Run probes, then sleeps for the interval, until ctx is cancelled or the
// optional duration has elapsed.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.logStart(); err != nil {
		return err
	}
	m.emitLifecycle("monitor_start", ModeContinuous, "")

	var deadline time.Time
	if m.cfg.Duration > 0 {
		deadline = m.now().Add(m.cfg.Duration)
	}

	reason := "stopped by user"
	for {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && !m.now().Before(deadline) {
			reason = "scheduled duration completed"
			break
		}

		if _, err := m.ProbeOnce(ctx); err != nil {
			return err
		}
		if m.tracker.SummaryDue() {
			if err := m.logStats(false); err != nil {
				return err
			}
		}

		m.logger.Debug("sleeping", "interval", m.cfg.Interval)
		select {
		case <-ctx.Done():
		case <-m.after(m.cfg.Interval):
		}
	}

	if reason == "scheduled duration completed" {
		if err := m.sink.Line("Scheduled duration completed"); err != nil {
			return err
		}
	} else if err := m.sink.Line("Monitor stopped by user"); err != nil {
		return err
	}
	if err := m.logStats(true); err != nil {
		return err
	}
	m.emitLifecycle("monitor_stop", ModeContinuous, reason)

	return m.sink.Line("Monitor ended")
}

// Stats exposes the current counters.
func (m *Monitor) Stats() metrics.Stats {
	return m.tracker.Snapshot(m.now())
}

func (m *Monitor) logStart() error {
	lines := []string{
		"Starting server keep-alive monitor",
		fmt.Sprintf("   Target: %s", m.cfg.Target),
		fmt.Sprintf("   Interval: %s", m.cfg.Interval),
		fmt.Sprintf("   Timeout: %s", m.cfg.Timeout),
	}
	if m.cfg.Duration > 0 {
		lines = append(lines, fmt.Sprintf("   Duration: %s", units.HumanDuration(m.cfg.Duration)))
	} else {
		lines = append(lines, "   Duration: indefinite (until stopped)")
	}
	lines = append(lines, strings.Repeat("=", 50))

	for _, l := range lines {
		if err := m.sink.Line("%s", l); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) logStats(final bool) error {
	s := m.Stats()
	runtime := units.HumanDuration(s.Runtime)

	if final {
		lines := []string{
			strings.Repeat("=", 50),
			"FINAL STATISTICS:",
			fmt.Sprintf("   Runtime: %s", runtime),
			fmt.Sprintf("   Total pings: %d", s.Probes),
			fmt.Sprintf("   Alive: %d", s.Alive),
			fmt.Sprintf("   Unexpected status: %d", s.Unexpected),
			fmt.Sprintf("   Failed: %d", s.Failed),
			fmt.Sprintf("   Success rate: %.1f%%", s.SuccessRate()),
		}
		for _, l := range lines {
			if err := m.sink.Line("%s", l); err != nil {
				return err
			}
		}
	} else if err := m.sink.Line("Stats: %d pings, %.1f%% success, runtime: %s", s.Probes, s.SuccessRate(), runtime); err != nil {
		return err
	}

	m.emit(&logging.StatsRecord{
		BaseEvent:   logging.BaseEvent{Type: "stats", Target: m.cfg.Target},
		Final:       final,
		Probes:      s.Probes,
		Alive:       s.Alive,
		Unexpected:  s.Unexpected,
		Failed:      s.Failed,
		SuccessRate: s.SuccessRate(),
		RuntimeMs:   s.Runtime.Milliseconds(),
	})
	return nil
}

func (m *Monitor) logTransition(e metrics.Event) error {
	switch evt := e.(type) {
	case metrics.TargetDown:
		m.logger.Warn("target down", "target", evt.Target, "consecutive_failures", evt.ConsecutiveFailures)
		m.emit(&logging.TransitionRecord{
			BaseEvent:           logging.BaseEvent{Type: string(evt.Type()), Target: evt.Target},
			State:               "down",
			ConsecutiveFailures: evt.ConsecutiveFailures,
		})
		return m.sink.Line("Target down after %d consecutive failed pings", evt.ConsecutiveFailures)
	case metrics.TargetRecovered:
		m.logger.Info("target recovered", "target", evt.Target, "downtime", evt.Downtime)
		m.emit(&logging.TransitionRecord{
			BaseEvent:  logging.BaseEvent{Type: string(evt.Type()), Target: evt.Target},
			State:      "up",
			DowntimeMs: evt.Downtime.Milliseconds(),
		})
		return m.sink.Line("Target recovered after %s of downtime", units.HumanDuration(evt.Downtime))
	}
	return nil
}

func (m *Monitor) diagnose(ctx context.Context) {
	if m.diagnoser == nil {
		return
	}

	rep, ok := m.diagnoser.Diagnose(ctx, m.cfg.Target)
	if !ok {
		m.logger.Debug("diagnostics cooling down")
		return
	}

	rec := &logging.DiagnosticRecord{
		BaseEvent: logging.BaseEvent{Type: "diagnostic", Target: m.cfg.Target},
		Host:      rep.Host,
	}
	for _, a := range rep.DNS {
		rec.DNS = append(rec.DNS, logging.DNSAnswer{
			Resolver: a.Resolver,
			Addrs:    a.Addrs,
			RttMs:    float64(a.RTT.Microseconds()) / 1000,
			Err:      a.Err,
		})
		if a.Err != "" {
			m.logger.Warn("dns diagnostic failed", "host", rep.Host, "resolver", a.Resolver, "error", a.Err)
		} else {
			m.logger.Info("dns diagnostic", "host", rep.Host, "resolver", a.Resolver, "addrs", a.Addrs)
		}
	}
	if rep.Trace != nil {
		rec.Hops = toLogHops(rep.Trace.Hops)
		rec.PathHash = rep.Trace.PathHash
		rec.TraceErr = rep.Trace.Err
		m.logger.Info("traceroute diagnostic", "host", rep.Host, "hops", len(rep.Trace.Hops), "error", rep.Trace.Err)
	}
	m.emit(rec)
}

func (m *Monitor) emitLifecycle(typ, mode, reason string) {
	rec := &logging.LifecycleRecord{
		BaseEvent: logging.BaseEvent{Type: typ, Target: m.cfg.Target},
		Mode:      mode,
		Reason:    reason,
	}
	if mode == ModeContinuous {
		rec.IntervalSecs = int64(m.cfg.Interval / time.Second)
	}
	m.emit(rec)
}

// emit writes to the optional record stream. That stream is secondary to
// the sink, so its errors are logged and dropped.
func (m *Monitor) emit(rec logging.Emittable) {
	if err := m.records.Emit(rec); err != nil {
		m.logger.Error("emit record failed", "type", rec.Base().Type, "error", err)
	}
}

func toLogHops(hops []diagnose.Hop) []logging.TracerouteHop {
	out := make([]logging.TracerouteHop, 0, len(hops))
	for _, h := range hops {
		var rtt *float64
		if h.IP != "" {
			val := h.RttMs
			rtt = &val
		}
		out = append(out, logging.TracerouteHop{TTL: h.TTL, IP: h.IP, RttMs: rtt})
	}
	return out
}
