// Package diagnose gathers network context after a failed probe.
package diagnose

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

type Config struct {
	Resolvers  []string
	Timeout    time.Duration
	Traceroute bool
	MaxHops    int
	Cooldown   time.Duration
}

type Report struct {
	Host  string
	DNS   []DNSAnswer
	Trace *TraceResult
}

// Diagnoser runs at most one diagnosis per cooldown window.
type Diagnoser struct {
	cfg Config

	mu   sync.Mutex
	last time.Time

	now     func() time.Time
	resolve func(ctx context.Context, host string, resolvers []string, timeout time.Duration) []DNSAnswer
	trace   func(ctx context.Context, host string, cfg TraceConfig) TraceResult
}

func New(cfg Config) *Diagnoser {
	return &Diagnoser{
		cfg:     cfg,
		now:     time.Now,
		resolve: Resolve,
		trace:   Traceroute,
	}
}

// Diagnose inspects the host of target. It returns false when the cooldown
// has not elapsed since the previous diagnosis.
func (d *Diagnoser) Diagnose(ctx context.Context, target string) (Report, bool) {
	d.mu.Lock()
	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < d.cfg.Cooldown {
		d.mu.Unlock()
		return Report{}, false
	}
	d.last = now
	d.mu.Unlock()

	host := target
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	rep := Report{Host: host}

	if len(d.cfg.Resolvers) > 0 && net.ParseIP(host) == nil {
		rep.DNS = d.resolve(ctx, host, d.cfg.Resolvers, d.cfg.Timeout)
	}

	if d.cfg.Traceroute {
		traceTimeout := time.Duration(d.cfg.MaxHops)*d.cfg.Timeout + 2*time.Second
		trCtx, cancel := context.WithTimeout(ctx, traceTimeout)
		res := d.trace(trCtx, host, TraceConfig{MaxHops: d.cfg.MaxHops, Timeout: d.cfg.Timeout})
		cancel()
		rep.Trace = &res
	}

	return rep, true
}
