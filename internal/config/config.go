package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// ErrInvalidTarget is returned when the target URL is not an absolute http(s) URL.
var ErrInvalidTarget = errors.New("invalid target url")

type Config struct {
	Target      TargetConfig      `toml:"target" yaml:"target"`
	Monitor     MonitorConfig     `toml:"monitor" yaml:"monitor"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
	MCP         MCPConfig         `toml:"mcp" yaml:"mcp"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" yaml:"diagnostics"`
}

type TargetConfig struct {
	URL         string  `toml:"url" yaml:"url"`
	TimeoutSecs float64 `toml:"timeout_secs" yaml:"timeout_secs"`
	// AcceptedStatuses lists the status codes counted as alive. 404 is
	// included by default: any answer from the server proves it is up.
	AcceptedStatuses []int `toml:"accepted_statuses" yaml:"accepted_statuses"`
}

type MonitorConfig struct {
	IntervalMins  int     `toml:"interval_mins" yaml:"interval_mins"`
	StatsEvery    int     `toml:"stats_every" yaml:"stats_every"`
	DownAfter     int     `toml:"down_after" yaml:"down_after"`
	DurationHours float64 `toml:"duration_hours" yaml:"duration_hours"`
}

type LoggingConfig struct {
	File       string `toml:"file" yaml:"file"`
	Console    bool   `toml:"console" yaml:"console"`
	Level      string `toml:"level" yaml:"level"`
	RecordsDir string `toml:"records_dir" yaml:"records_dir"`
	MaxMB      int    `toml:"max_mb" yaml:"max_mb"`
	MaxFiles   int    `toml:"max_files" yaml:"max_files"`
}

type MCPConfig struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AuthToken string `toml:"auth_token" yaml:"auth_token"`
	Tool      string `toml:"tool" yaml:"tool"`
	Fallback  bool   `toml:"fallback" yaml:"fallback"`
}

type DiagnosticsConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Resolvers    []string `toml:"resolvers" yaml:"resolvers"`
	Traceroute   bool     `toml:"traceroute" yaml:"traceroute"`
	MaxHops      int      `toml:"max_hops" yaml:"max_hops"`
	TimeoutMS    int      `toml:"timeout_ms" yaml:"timeout_ms"`
	CooldownSecs int      `toml:"cooldown_secs" yaml:"cooldown_secs"`
}

// DefaultAcceptedStatuses are the codes that count as "the server answered".
var DefaultAcceptedStatuses = []int{200, 301, 302, 307, 404}

func Default() Config {
	return Config{
		Target: TargetConfig{
			TimeoutSecs:      15,
			AcceptedStatuses: append([]int(nil), DefaultAcceptedStatuses...),
		},
		Monitor: MonitorConfig{
			IntervalMins: 5,
			StatsEvery:   12,
			DownAfter:    3,
		},
		Logging: LoggingConfig{
			File:     "server_monitor.log",
			Console:  true,
			Level:    "info",
			MaxMB:    10,
			MaxFiles: 5,
		},
		MCP: MCPConfig{
			Tool:     "health_check",
			Fallback: true,
		},
		Diagnostics: DiagnosticsConfig{
			Resolvers:    []string{"1.1.1.1:53", "8.8.8.8:53"},
			MaxHops:      20,
			TimeoutMS:    2000,
			CooldownSecs: 300,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults
// without validation so that flags can still fill in the target.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file not found: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks the config and normalizes the target URL host.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Target.URL) == "" {
		errs = append(errs, "target.url is required")
	} else if normalized, err := NormalizeURL(c.Target.URL); err != nil {
		errs = append(errs, fmt.Sprintf("target.url: %v", err))
	} else {
		c.Target.URL = normalized
	}
	if c.Target.TimeoutSecs <= 0 {
		errs = append(errs, "target.timeout_secs must be > 0")
	}
	if len(c.Target.AcceptedStatuses) == 0 {
		errs = append(errs, "target.accepted_statuses must not be empty")
	}
	for i, code := range c.Target.AcceptedStatuses {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("target.accepted_statuses[%d] = %d is not an http status", i, code))
		}
	}
	if c.Monitor.IntervalMins <= 0 {
		errs = append(errs, "monitor.interval_mins must be > 0")
	}
	if c.Monitor.StatsEvery < 0 {
		errs = append(errs, "monitor.stats_every must be >= 0")
	}
	if c.Monitor.DownAfter <= 0 {
		errs = append(errs, "monitor.down_after must be > 0")
	}
	if c.Monitor.DurationHours < 0 {
		errs = append(errs, "monitor.duration_hours must be >= 0")
	}
	if strings.TrimSpace(c.Logging.File) == "" && !c.Logging.Console {
		errs = append(errs, "logging needs a file or console output")
	}
	if c.Logging.RecordsDir != "" {
		if c.Logging.MaxMB <= 0 {
			errs = append(errs, "logging.max_mb must be > 0")
		}
		if c.Logging.MaxFiles <= 0 {
			errs = append(errs, "logging.max_files must be > 0")
		}
	}
	if c.MCP.Endpoint != "" {
		if normalized, err := NormalizeURL(c.MCP.Endpoint); err != nil {
			errs = append(errs, fmt.Sprintf("mcp.endpoint: %v", err))
		} else {
			c.MCP.Endpoint = normalized
		}
		if strings.TrimSpace(c.MCP.Tool) == "" {
			errs = append(errs, "mcp.tool is required")
		}
	}
	if c.Diagnostics.Enabled {
		if len(c.Diagnostics.Resolvers) == 0 && !c.Diagnostics.Traceroute {
			errs = append(errs, "diagnostics needs resolvers or traceroute")
		}
		if c.Diagnostics.TimeoutMS <= 0 {
			errs = append(errs, "diagnostics.timeout_ms must be > 0")
		}
		if c.Diagnostics.Traceroute && c.Diagnostics.MaxHops <= 0 {
			errs = append(errs, "diagnostics.max_hops must be > 0")
		}
		if c.Diagnostics.CooldownSecs < 0 {
			errs = append(errs, "diagnostics.cooldown_secs must be >= 0")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// NormalizeURL checks that raw is an absolute http(s) URL and rewrites an
// internationalized host to its ASCII form.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidTarget)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	if net.ParseIP(host) != nil {
		return u.String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrInvalidTarget, host, err)
	}
	if ascii != host {
		if port := u.Port(); port != "" {
			u.Host = ascii + ":" + port
		} else {
			u.Host = ascii
		}
	}

	return u.String(), nil
}
