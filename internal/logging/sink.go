package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the timestamp prefix of every sink line.
const TimestampLayout = "2006-01-02 15:04:05.000"

// ErrNoDestination is returned when neither a file nor console output is configured.
var ErrNoDestination = errors.New("log sink has no destination")

type SinkConfig struct {
	Path    string
	Console io.Writer
}

// Sink appends "<timestamp> - <message>" lines. The file is opened in
// append mode and never truncated or rotated; each line is one Write.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	console io.Writer
	now     func() time.Time
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Path == "" && cfg.Console == nil {
		return nil, ErrNoDestination
	}

	s := &Sink{console: cfg.Console, now: time.Now}
	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
	}

	return s, nil
}

// Line formats and appends one line. A write error on the file is returned;
// the console is best effort.
func (s *Sink) Line(format string, args ...any) error {
	if s == nil {
		return fmt.Errorf("sink not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	msg = strings.ReplaceAll(msg, "\n", " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	line := []byte(s.now().Format(TimestampLayout) + " - " + msg + "\n")

	if s.file != nil {
		if _, err := s.file.Write(line); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	if s.console != nil {
		_, _ = s.console.Write(line)
	}

	return nil
}

func (s *Sink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}

	return s.file.Close()
}
