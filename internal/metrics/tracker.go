package metrics

import (
	"sync"
	"time"

	"github.com/iaserrat/keepalive/internal/probe"
)

type EventType string

const (
	EventTargetDown      EventType = "target_down"
	EventTargetRecovered EventType = "target_recovered"
)

type Event interface {
	Type() EventType
}

type TargetDown struct {
	Target              string
	Since               time.Time
	ConsecutiveFailures int
	LastOutcome         probe.Outcome
}

func (d TargetDown) Type() EventType { return EventTargetDown }

type TargetRecovered struct {
	Target   string
	Since    time.Time
	Downtime time.Duration
}

func (r TargetRecovered) Type() EventType { return EventTargetRecovered }

// Stats is a point-in-time view of the counters.
type Stats struct {
	Probes              int
	Alive               int
	Unexpected          int
	Failed              int
	ConsecutiveFailures int
	Down                bool
	Runtime             time.Duration
}

// SuccessRate is the alive share in percent, 0 before the first probe.
func (s Stats) SuccessRate() float64 {
	if s.Probes == 0 {
		return 0
	}
	return float64(s.Alive) / float64(s.Probes) * 100
}

// Tracker counts probe outcomes and reports down/recovered transitions once
// downAfter consecutive probes were not alive.
type Tracker struct {
	mu        sync.Mutex
	start     time.Time
	downAfter int
	every     int

	probes     int
	alive      int
	unexpected int
	failed     int
	consecFail int
	down       bool
	downSince  time.Time
	failStart  time.Time
}

func NewTracker(start time.Time, downAfter, statsEvery int) *Tracker {
	if downAfter <= 0 {
		downAfter = 1
	}
	return &Tracker{start: start, downAfter: downAfter, every: statsEvery}
}

func (t *Tracker) Record(res probe.Result) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.probes++
	switch res.Outcome {
	case probe.OutcomeAlive:
		t.alive++
	case probe.OutcomeUnexpectedStatus:
		t.unexpected++
	default:
		t.failed++
	}

	var events []Event

	if res.Alive() {
		t.consecFail = 0
		if t.down {
			events = append(events, TargetRecovered{
				Target:   res.Target,
				Since:    t.downSince,
				Downtime: res.Time.Sub(t.downSince),
			})
			t.down = false
			t.downSince = time.Time{}
		}
		return events
	}

	t.consecFail++
	if t.consecFail == 1 {
		t.failStart = res.Time
	}
	if !t.down && t.consecFail >= t.downAfter {
		t.down = true
		t.downSince = t.failStart
		events = append(events, TargetDown{
			Target:              res.Target,
			Since:               t.downSince,
			ConsecutiveFailures: t.consecFail,
			LastOutcome:         res.Outcome,
		})
	}

	return events
}

// SummaryDue reports whether periodic statistics should be logged after the
// latest probe.
func (t *Tracker) SummaryDue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.every > 0 && t.probes > 0 && t.probes%t.every == 0
}

func (t *Tracker) Snapshot(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Probes:              t.probes,
		Alive:               t.alive,
		Unexpected:          t.unexpected,
		Failed:              t.failed,
		ConsecutiveFailures: t.consecFail,
		Down:                t.down,
		Runtime:             now.Sub(t.start),
	}
}
