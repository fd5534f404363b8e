package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const schemaVersion = 1

// Emittable is any record carrying a BaseEvent.
type Emittable interface {
	Base() *BaseEvent
}

// Logger writes JSONL records to a size-rotated file.
type Logger struct {
	mu     sync.Mutex
	writer io.WriteCloser
	cfg    Config
	seq    uint64
}

type Config struct {
	Dir         string
	MaxMB       int
	MaxFiles    int
	ToolName    string
	ToolVersion string
	HostID      string
	RunID       string
}

func New(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(cfg.Dir, cfg.ToolName+".jsonl")
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   false,
	}

	return &Logger{writer: lj, cfg: cfg}, nil
}

func (l *Logger) Close() error {
	if l == nil || l.writer == nil {
		return nil
	}

	return l.writer.Close()
}

// Emit fills in the envelope and appends the record. A nil Logger is a
// disabled stream and drops the record.
func (l *Logger) Emit(record Emittable) error {
	if l == nil {
		return nil
	}
	if l.writer == nil {
		return fmt.Errorf("logger not initialized")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.seq++

	base := record.Base()
	base.TSUTC = now.Format(time.RFC3339Nano)
	base.TSUnixMS = now.UnixMilli()
	base.Seq = l.seq
	base.RunID = l.cfg.RunID
	base.SchemaVersion = schemaVersion
	base.ToolName = l.cfg.ToolName
	base.ToolVersion = l.cfg.ToolVersion
	base.HostID = l.cfg.HostID

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	b = append(b, '\n')

	_, err = l.writer.Write(b)
	return err
}
