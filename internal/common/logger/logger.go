// Package logger wraps zap with the fields the control plane's components
// attach most often (task id, worker id, tenant id), and a process-wide
// default instance set once at startup.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the default logger's encoding and level.
type Config struct {
	Level      string // debug|info|warn|error
	Format     string // json|console
	OutputPath string // "" means stdout
}

// Logger is a thin fluent wrapper over a zap.Logger.
type Logger struct {
	z *zap.Logger
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
	defaultMu   sync.RWMutex
)

// NewLogger builds a Logger from cfg.
func NewLogger(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	format := cfg.Format
	if format == "" {
		format = detectLogFormat()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	writer := zapcore.AddSync(os.Stdout)
	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		writer = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, writer, level)
	z := zap.New(core, zap.AddCaller())
	return &Logger{z: z}, nil
}

func detectLogFormat() string {
	if os.Getenv("DISPATCHD_ENV") == "production" {
		return "json"
	}
	if _, ci := os.LookupEnv("CI"); ci {
		return "json"
	}
	return "console"
}

// Default returns the process-wide logger, lazily constructing an
// info-level fallback, its format detected from the environment, if
// SetDefault was never called.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultLog == nil {
			l, _ := NewLogger(Config{Level: "info"})
			defaultLog = l
		}
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{z: l.z.With(zap.Error(err))}
}

func (l *Logger) WithTaskID(taskID string) *Logger {
	return &Logger{z: l.z.With(zap.String("task_id", taskID))}
}

func (l *Logger) WithWorkerID(workerID string) *Logger {
	return &Logger{z: l.z.With(zap.String("worker_id", workerID))}
}

func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{z: l.z.With(zap.String("tenant_id", tenantID))}
}

type ctxKey struct{}

// WithContext returns a context carrying l, retrievable via FromContext.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext recovers the logger stashed by WithContext, falling back to
// Default() if none is present.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }
func (l *Logger) Sync() error                           { return l.z.Sync() }
