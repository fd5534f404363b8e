package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

type HTTPConfig struct {
	URL       string
	Timeout   time.Duration
	Accepted  StatusSet
	UserAgent string
}

// HTTPProber issues a single GET and classifies the answer.
type HTTPProber struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProber(cfg HTTPConfig) *HTTPProber {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true

	return &HTTPProber{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			// Redirect codes are part of the accepted set, so they must be
			// observed rather than followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) Result {
	res := Result{
		Time:   time.Now(),
		Target: p.cfg.URL,
		Method: "http",
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Failure = FailureOther
		res.Detail = err.Error()
		return res
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Failure = classifyError(ctx, err)
		res.Detail = err.Error()
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	res.Detail = strconv.Itoa(resp.StatusCode)
	if p.cfg.Accepted.Contains(resp.StatusCode) {
		res.Outcome = OutcomeAlive
	} else {
		res.Outcome = OutcomeUnexpectedStatus
	}

	return res
}

// classifyError maps a transport error to a Failure. parent is the caller's
// context, used to tell an interrupt apart from the probe's own deadline.
func classifyError(parent context.Context, err error) Failure {
	if errors.Is(parent.Err(), context.Canceled) {
		return FailureInterrupted
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureTimeout
		}
		return FailureDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}

	return FailureOther
}
