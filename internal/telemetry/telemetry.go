// Package telemetry wraps zerolog with the async-diode/lumberjack setup a
// long-running chord peer needs: structured JSON logs to stdout and,
// optionally, a rotated file sink.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	instance *Logger
	mu       sync.RWMutex

	timeFormatOnce sync.Once
	callerSkipOnce sync.Once
)

// Logger wraps a zerolog.Logger with the peer's default field set.
type Logger struct {
	*zerolog.Logger
	cfg *Config
	mu  sync.RWMutex
}

// Config controls how peer logs are formatted and where they go.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Console    bool   `json:"console" yaml:"console"`
	ConsolePretty bool `json:"console_pretty" yaml:"console_pretty"`

	FilePath   string `json:"file_path" yaml:"file_path"`
	FileMaxMB  int    `json:"file_max_mb" yaml:"file_max_mb"`
	FileMaxAge int    `json:"file_max_age_days" yaml:"file_max_age_days"`
	FileBackups int   `json:"file_backups" yaml:"file_backups"`

	AsyncWrite bool `json:"async_write" yaml:"async_write"`
	BufferSize int  `json:"buffer_size" yaml:"buffer_size"`

	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`

	// PeerID, when non-empty, is attached to every log line as peer_id.
	// cmd/chordhash leaves it empty.
	PeerID string `json:"-" yaml:"-"`
}

// DefaultConfig returns the configuration used when no config file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Console:     true,
		ConsolePretty: false,
		AsyncWrite:  false,
		BufferSize:  10000,
		EnableCaller: true,
	}
}

// Init builds a Logger from cfg (or DefaultConfig if nil) and installs it as
// the package-level global.
func Init(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.ConsolePretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
		} else {
			writers = append(writers, os.Stdout)
		}
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("telemetry: create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.FileMaxMB, 100),
			MaxAge:     orDefault(cfg.FileMaxAge, 30),
			MaxBackups: orDefault(cfg.FileBackups, 10),
			LocalTime:  true,
			Compress:   true,
		})
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.AsyncWrite {
		bufSize := orDefault(cfg.BufferSize, 10000)
		w = diode.NewWriter(w, bufSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "telemetry: dropped %d log lines\n", missed)
		})
	}

	if cfg.EnableCaller {
		callerSkipOnce.Do(func() { zerolog.CallerSkipFrameCount = 3 })
	}

	timeFormatOnce.Do(func() { zerolog.TimeFieldFormat = time.RFC3339Nano })

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	if cfg.PeerID != "" {
		ctx = ctx.Str("peer_id", cfg.PeerID)
	}
	zl := ctx.Logger()

	l := &Logger{Logger: &zl, cfg: cfg}
	setGlobal(l)
	return l, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func setGlobal(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	instance = l
}

// L returns the global Logger, lazily building a default one on first use.
func L() *Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}
	l, _ = Init(nil)
	return l
}

// With starts a new logging context carrying this logger's base fields.
func (l *Logger) With(component string) zerolog.Context {
	return l.Logger.With().Str("component", component)
}

// WithPeer returns a child logger tagged with a remote peer's short id, for
// use around a single RPC call.
func (l *Logger) WithPeer(peerHex string) *Logger {
	zl := l.Logger.With().Str("remote_peer", peerHex).Logger()
	return &Logger{Logger: &zl, cfg: l.cfg}
}

// UpdateLevel changes the minimum log level at runtime.
func (l *Logger) UpdateLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	newLogger := l.Logger.Level(lvl)
	l.Logger = &newLogger
	l.cfg.Level = level
	return nil
}
