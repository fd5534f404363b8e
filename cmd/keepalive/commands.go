package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/iaserrat/keepalive/internal/config"
	"github.com/iaserrat/keepalive/internal/diagnose"
	"github.com/iaserrat/keepalive/internal/logging"
	"github.com/iaserrat/keepalive/internal/monitor"
	"github.com/iaserrat/keepalive/internal/probe"
)

const envAuthToken = "KEEPALIVE_AUTH_TOKEN"

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "keepalive [run|single]",
		Short: "Keep a hosted HTTP service awake and log whether it answers",
		Long: `keepalive sends a GET to the target URL, classifies the answer as alive,
unexpected status or failed, and appends one line per probe to a log file.

Without a subcommand it runs continuously until interrupted. Use "single"
for one probe per invocation when an external scheduler drives it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, monitor.ModeContinuous, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	addFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:     "run",
		Aliases: []string{"continuous"},
		Short:   "Probe on a fixed interval until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, monitor.ModeContinuous, stdout, stderr)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "single",
		Short: "Probe once and exit 0 whatever the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, monitor.ModeSingle, stdout, stderr)
		},
	})

	return root
}

func addFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to a .toml or .yaml config file")
	fs.StringP("url", "u", "", "Target URL to probe")
	fs.Float64("timeout", 0, "Request timeout in seconds (default 15)")
	fs.IntP("interval", "i", 0, "Minutes between probes in continuous mode (default 5)")
	fs.Float64("hours", 0, "Stop continuous mode after this many hours (0 runs until interrupted)")
	fs.String("log-file", "", "Append probe lines to this file (default server_monitor.log)")
	fs.Bool("console", true, "Also print probe lines to stdout")
	fs.String("records-dir", "", "Write JSONL records to this directory")
	fs.String("log-level", "", "Diagnostic log level (trace, debug, info, warn, error, off)")
	fs.Bool("debug", false, "Shorthand for --log-level=debug")
	fs.String("mcp-endpoint", "", "Call the MCP health tool at this endpoint instead of a plain GET")
	fs.String("auth-token", "", "Bearer token for the MCP endpoint (or "+envAuthToken+")")
}

// loadConfig layers defaults, the optional file, then any flag the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if flags.Changed("url") {
		cfg.Target.URL, _ = flags.GetString("url")
	}
	if flags.Changed("timeout") {
		cfg.Target.TimeoutSecs, _ = flags.GetFloat64("timeout")
	}
	if flags.Changed("interval") {
		cfg.Monitor.IntervalMins, _ = flags.GetInt("interval")
	}
	if flags.Changed("hours") {
		cfg.Monitor.DurationHours, _ = flags.GetFloat64("hours")
	}
	if flags.Changed("log-file") {
		cfg.Logging.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("console") {
		cfg.Logging.Console, _ = flags.GetBool("console")
	}
	if flags.Changed("records-dir") {
		cfg.Logging.RecordsDir, _ = flags.GetString("records-dir")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	if flags.Changed("mcp-endpoint") {
		cfg.MCP.Endpoint, _ = flags.GetString("mcp-endpoint")
	}
	if flags.Changed("auth-token") {
		cfg.MCP.AuthToken, _ = flags.GetString("auth-token")
	}
	if cfg.MCP.AuthToken == "" {
		cfg.MCP.AuthToken = os.Getenv(envAuthToken)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func execute(cmd *cobra.Command, mode string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, stderr)

	var console io.Writer
	if cfg.Logging.Console {
		console = stdout
	}
	sink, err := logging.NewSink(logging.SinkConfig{Path: cfg.Logging.File, Console: console})
	if err != nil {
		return err
	}
	defer sink.Close()

	opts := []monitor.Option{monitor.WithLogger(logger)}

	if cfg.Logging.RecordsDir != "" {
		records, err := newRecordLogger(cfg)
		if err != nil {
			return err
		}
		defer records.Close()
		opts = append(opts, monitor.WithRecords(records))
	}

	if cfg.Diagnostics.Enabled {
		opts = append(opts, monitor.WithDiagnoser(diagnose.New(diagnose.Config{
			Resolvers:  cfg.Diagnostics.Resolvers,
			Timeout:    time.Duration(cfg.Diagnostics.TimeoutMS) * time.Millisecond,
			Traceroute: cfg.Diagnostics.Traceroute,
			MaxHops:    cfg.Diagnostics.MaxHops,
			Cooldown:   time.Duration(cfg.Diagnostics.CooldownSecs) * time.Second,
		})))
	}

	target := cfg.Target.URL
	if cfg.MCP.Endpoint != "" {
		target = cfg.MCP.Endpoint
	}
	mon := monitor.New(monitor.Config{
		Target:     target,
		Interval:   time.Duration(cfg.Monitor.IntervalMins) * time.Minute,
		Timeout:    timeout(cfg),
		Duration:   time.Duration(cfg.Monitor.DurationHours * float64(time.Hour)),
		StatsEvery: cfg.Monitor.StatsEvery,
		DownAfter:  cfg.Monitor.DownAfter,
	}, newProber(cfg), sink, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "mode", mode, "target", target, "version", version)
	if mode == monitor.ModeSingle {
		return mon.RunSingle(ctx)
	}
	return mon.Run(ctx)
}

func timeout(cfg config.Config) time.Duration {
	return time.Duration(cfg.Target.TimeoutSecs * float64(time.Second))
}

func newProber(cfg config.Config) probe.Prober {
	httpProber := probe.NewHTTPProber(probe.HTTPConfig{
		URL:       cfg.Target.URL,
		Timeout:   timeout(cfg),
		Accepted:  probe.NewStatusSet(cfg.Target.AcceptedStatuses...),
		UserAgent: "keepalive/" + version,
	})
	if cfg.MCP.Endpoint == "" {
		return httpProber
	}

	var fallback probe.Prober
	if cfg.MCP.Fallback {
		fallback = httpProber
	}
	return probe.NewMCPProber(probe.MCPConfig{
		Endpoint:      cfg.MCP.Endpoint,
		AuthToken:     cfg.MCP.AuthToken,
		Tool:          cfg.MCP.Tool,
		Timeout:       timeout(cfg),
		ClientName:    "keepalive",
		ClientVersion: version,
	}, fallback)
}

func newLogger(cfg config.Config, out io.Writer) hclog.Logger {
	level := strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	switch level {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		level = "info"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "keepalive",
		Level:  hclog.LevelFromString(level),
		Output: out,
	})
}

func newRecordLogger(cfg config.Config) (*logging.Logger, error) {
	hostID, err := os.Hostname()
	if err != nil || hostID == "" {
		hostID = "unknown"
	}
	records, err := logging.New(logging.Config{
		Dir:         cfg.Logging.RecordsDir,
		MaxMB:       cfg.Logging.MaxMB,
		MaxFiles:    cfg.Logging.MaxFiles,
		ToolName:    "keepalive",
		ToolVersion: version,
		HostID:      hostID,
		RunID:       uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	return records, nil
}
