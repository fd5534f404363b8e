package diagnose

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type TraceConfig struct {
	MaxHops int
	Timeout time.Duration
}

type Hop struct {
	TTL   int
	IP    string
	RttMs float64
}

type TraceResult struct {
	Hops     []Hop
	PathHash string
	Err      string
}

var hopLine = regexp.MustCompile(`^\s*(\d+)\s+(.+)$`)

// Traceroute shells out to the system traceroute binary. Partial output is
// kept when the command fails.
func Traceroute(ctx context.Context, host string, cfg TraceConfig) TraceResult {
	wait := cfg.Timeout.Seconds()
	if wait < 1 {
		wait = 1
	}
	args := []string{"-n", "-m", strconv.Itoa(cfg.MaxHops), "-w", fmt.Sprintf("%.0f", wait), host}
	cmd := exec.CommandContext(ctx, "traceroute", args...)

	out, err := cmd.CombinedOutput()
	hops := parseTraceroute(string(out))
	res := TraceResult{Hops: hops}
	if len(hops) > 0 {
		res.PathHash = hashPath(hops)
	}
	if err != nil {
		res.Err = err.Error()
	}

	return res
}

func parseTraceroute(out string) []Hop {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var hops []Hop

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "traceroute") {
			continue
		}

		matches := hopLine.FindStringSubmatch(line)
		if len(matches) < 3 {
			continue
		}

		ttl, _ := strconv.Atoi(matches[1])
		ip, rtt := parseHop(matches[2])
		hops = append(hops, Hop{TTL: ttl, IP: ip, RttMs: rtt})
	}

	return hops
}

// parseHop takes the first responding address and its first RTT; a hop
// made only of "*" has no address.
func parseHop(rest string) (string, float64) {
	fields := strings.Fields(rest)
	ip := ""
	for i, f := range fields {
		if f == "*" {
			continue
		}
		if ip == "" {
			ip = f
			continue
		}
		if f == "ms" && i > 0 {
			val, err := strconv.ParseFloat(fields[i-1], 64)
			if err == nil {
				return ip, val
			}
		}
	}

	return ip, 0
}

func hashPath(hops []Hop) string {
	var sb strings.Builder
	for _, h := range hops {
		fmt.Fprintf(&sb, "%d:%s|", h.TTL, h.IP)
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}
