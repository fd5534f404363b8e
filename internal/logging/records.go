package logging

type BaseEvent struct {
	TSUTC         string `json:"ts_utc"`
	TSUnixMS      int64  `json:"ts_unix_ms"`
	Seq           uint64 `json:"seq"`
	Type          string `json:"type"`
	Target        string `json:"target"`
	RunID         string `json:"run_id"`
	SchemaVersion int    `json:"schema_version"`
	ToolName      string `json:"tool_name"`
	ToolVersion   string `json:"tool_version"`
	HostID        string `json:"host_id"`
}

func (b *BaseEvent) Base() *BaseEvent {
	return b
}

type ProbeRecord struct {
	BaseEvent
	ProbeNumber int     `json:"probe_number"`
	Method      string  `json:"method"`
	Outcome     string  `json:"outcome"`
	StatusCode  int     `json:"status_code,omitempty"`
	Failure     string  `json:"failure,omitempty"`
	Detail      string  `json:"detail"`
	LatencyMs   float64 `json:"latency_ms"`
}

type TransitionRecord struct {
	BaseEvent
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	DowntimeMs          int64  `json:"downtime_ms,omitempty"`
}

type StatsRecord struct {
	BaseEvent
	Final       bool    `json:"final"`
	Probes      int     `json:"probes"`
	Alive       int     `json:"alive"`
	Unexpected  int     `json:"unexpected"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	RuntimeMs   int64   `json:"runtime_ms"`
}

type LifecycleRecord struct {
	BaseEvent
	Mode         string `json:"mode"`
	IntervalSecs int64  `json:"interval_secs,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type DNSAnswer struct {
	Resolver string   `json:"resolver"`
	Addrs    []string `json:"addrs,omitempty"`
	RttMs    float64  `json:"rtt_ms"`
	Err      string   `json:"err,omitempty"`
}

type TracerouteHop struct {
	TTL   int      `json:"ttl"`
	IP    string   `json:"ip"`
	RttMs *float64 `json:"rtt_ms"`
}

type DiagnosticRecord struct {
	BaseEvent
	Host     string          `json:"host"`
	DNS      []DNSAnswer     `json:"dns,omitempty"`
	Hops     []TracerouteHop `json:"hops,omitempty"`
	PathHash string          `json:"path_hash,omitempty"`
	TraceErr string          `json:"trace_err,omitempty"`
}
