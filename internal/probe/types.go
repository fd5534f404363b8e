package probe

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Outcome classifies a single probe attempt.
type Outcome string

const (
	OutcomeAlive            Outcome = "alive"
	OutcomeUnexpectedStatus Outcome = "unexpected_status"
	OutcomeFailed           Outcome = "failed"
)

// Failure narrows down why a probe ended in OutcomeFailed.
type Failure string

const (
	FailureNone        Failure = ""
	FailureTimeout     Failure = "timeout"
	FailureDNS         Failure = "dns"
	FailureRefused     Failure = "refused"
	FailureInterrupted Failure = "interrupted"
	FailureOther       Failure = "other"
)

// Result is produced exactly once per probe attempt.
type Result struct {
	Time       time.Time
	Target     string
	Method     string
	Outcome    Outcome
	StatusCode int
	Detail     string
	Failure    Failure
	Latency    time.Duration
}

func (r Result) Alive() bool { return r.Outcome == OutcomeAlive }

// Message renders the human readable part of a log line.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeAlive:
		if r.StatusCode == 0 {
			return fmt.Sprintf("Server alive (%s)", r.Detail)
		}
		return fmt.Sprintf("Server alive (Status: %d)", r.StatusCode)
	case OutcomeUnexpectedStatus:
		if r.StatusCode != 0 {
			return fmt.Sprintf("Unexpected status: %d", r.StatusCode)
		}
		return fmt.Sprintf("Unexpected response: %s", r.Detail)
	}

	switch r.Failure {
	case FailureTimeout:
		return "Request timeout - server might be sleeping"
	case FailureRefused:
		return "Connection error - server might be down"
	case FailureDNS:
		return fmt.Sprintf("DNS lookup failed: %s", r.Detail)
	case FailureInterrupted:
		return "Probe interrupted"
	default:
		return fmt.Sprintf("Ping failed: %s", r.Detail)
	}
}

// Prober performs one probe. Implementations never return an error: every
// failure is folded into the Result.
type Prober interface {
	Probe(ctx context.Context) Result
}

// StatusSet is the set of HTTP status codes treated as alive.
type StatusSet map[int]struct{}

func NewStatusSet(codes ...int) StatusSet {
	s := make(StatusSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s StatusSet) Contains(code int) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the members in ascending order.
func (s StatusSet) Codes() []int {
	out := make([]int, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
