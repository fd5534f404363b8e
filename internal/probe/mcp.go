package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

type MCPConfig struct {
	Endpoint      string
	AuthToken     string
	Tool          string
	Timeout       time.Duration
	ClientName    string
	ClientVersion string
}

// MCPProber calls a health tool on an MCP server over streamable HTTP.
// When the call does not prove the server alive and a fallback prober is
// set, the fallback's answer becomes the result of the attempt.
type MCPProber struct {
	cfg      MCPConfig
	fallback Prober
}

func NewMCPProber(cfg MCPConfig, fallback Prober) *MCPProber {
	if cfg.ClientName == "" {
		cfg.ClientName = "keepalive"
	}
	return &MCPProber{cfg: cfg, fallback: fallback}
}

func (p *MCPProber) Probe(ctx context.Context) Result {
	res := p.callTool(ctx)
	if res.Alive() || p.fallback == nil || errors.Is(ctx.Err(), context.Canceled) {
		return res
	}

	fb := p.fallback.Probe(ctx)
	fb.Method = "mcp+fallback"
	fb.Detail = fmt.Sprintf("%s; mcp %s: %s", fb.Detail, res.Outcome, res.Detail)
	return fb
}

func (p *MCPProber) callTool(ctx context.Context) Result {
	res := Result{
		Time:   time.Now(),
		Target: p.cfg.Endpoint,
		Method: "mcp",
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	headers := map[string]string{}
	if p.cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + p.cfg.AuthToken
	}

	start := time.Now()
	c, err := client.NewStreamableHttpClient(p.cfg.Endpoint, transport.WithHTTPHeaders(headers))
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Failure = FailureOther
		res.Detail = fmt.Sprintf("create client: %v", err)
		return res
	}
	defer c.Close()

	if err := c.Start(callCtx); err != nil {
		return p.fail(ctx, res, start, "start", err)
	}

	_, err = c.Initialize(callCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: p.cfg.ClientName, Version: p.cfg.ClientVersion},
		},
	})
	if err != nil {
		return p.fail(ctx, res, start, "initialize", err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = p.cfg.Tool
	req.Params.Arguments = map[string]any{}

	out, err := c.CallTool(callCtx, req)
	res.Latency = time.Since(start)
	if err != nil {
		return p.fail(ctx, res, start, "call "+p.cfg.Tool, err)
	}
	if out.IsError {
		res.Outcome = OutcomeUnexpectedStatus
		res.Detail = fmt.Sprintf("%s reported an error", p.cfg.Tool)
		return res
	}

	res.Outcome = OutcomeAlive
	res.Detail = fmt.Sprintf("%s ok", p.cfg.Tool)
	return res
}

// fail distinguishes transport failures from a server that answered with
// something other than a healthy MCP response.
func (p *MCPProber) fail(parent context.Context, res Result, start time.Time, step string, err error) Result {
	res.Latency = time.Since(start)
	res.Detail = fmt.Sprintf("%s: %v", step, err)

	var urlErr *url.Error
	failure := classifyError(parent, err)
	if errors.As(err, &urlErr) || failure != FailureOther {
		res.Outcome = OutcomeFailed
		res.Failure = failure
		return res
	}

	res.Outcome = OutcomeUnexpectedStatus
	return res
}
