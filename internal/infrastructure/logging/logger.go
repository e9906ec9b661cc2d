package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Logger wraps zap.Logger. Its entries are the process log; request
// telemetry reaches it through a LogLayer.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	// Level uses the span level names, so "trace" is accepted.
	Level       string
	Development bool
	OutputPaths []string
	// Service is attached to every entry when set.
	Service string
}

// DefaultConfig returns the JSON configuration used in production.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		OutputPaths: []string{"stdout"},
	}
}

// DevelopmentConfig returns a colored console configuration at debug.
func DevelopmentConfig() Config {
	return Config{
		Level:       "debug",
		Development: true,
		OutputPaths: []string{"stdout"},
	}
}

// FromConfig builds the process logger from the environment configuration.
func FromConfig(lc config.LogConfig, service string) (*Logger, error) {
	cfg := DefaultConfig()
	if lc.Development {
		cfg = DevelopmentConfig()
	}
	if lc.Level != "" {
		cfg.Level = lc.Level
	}
	cfg.Service = service
	return New(cfg)
}

// New creates a logger with the provided configuration.
func New(cfg Config) (*Logger, error) {
	zapCfg, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{Logger: logger}, nil
}

// NewDefault creates a production logger, or a no-op one if zap cannot open
// its outputs.
func NewDefault() *Logger {
	return orNop(New(DefaultConfig()))
}

// NewDevelopment creates a development logger, or a no-op one.
func NewDevelopment() *Logger {
	return orNop(New(DevelopmentConfig()))
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func orNop(l *Logger, err error) *Logger {
	if err != nil {
		return NewNop()
	}
	return l
}

// Diagnostic returns the named child logger that telemetry components use to
// report their own failures. It never feeds back into the trace pipeline.
func (l *Logger) Diagnostic(component string) *zap.Logger {
	return l.Logger.Named(component).WithOptions(zap.AddStacktrace(zapcore.DPanicLevel))
}

func buildConfig(cfg Config) (zap.Config, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zap.Config{}, err
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     jsonEncoderConfig(),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zc.Encoding = "console"
		zc.EncoderConfig = consoleEncoderConfig()
	}
	if cfg.Service != "" {
		zc.InitialFields = map[string]interface{}{"service": cfg.Service}
	}
	return zc, nil
}

// parseLevel maps a span level name onto zap. "off" silences everything
// below fatal.
func parseLevel(name string) (zapcore.Level, error) {
	lvl, err := telemetry.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level: %w", err)
	}
	if lvl == telemetry.OffLevel {
		return zapcore.FatalLevel, nil
	}
	return lvl.ZapLevel(), nil
}

// jsonEncoderConfig uses the same key names as exported spans.
func jsonEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.NameKey = "target"
	enc.EncodeLevel = levelEncoder(zapcore.LowercaseLevelEncoder)
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeDuration = zapcore.NanosDurationEncoder
	return enc
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = levelEncoder(zapcore.CapitalColorLevelEncoder)
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

// levelEncoder names the sub-debug level "trace" instead of "Level(-2)".
func levelEncoder(next zapcore.LevelEncoder) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l < zapcore.DebugLevel {
			enc.AppendString("trace")
			return
		}
		next(l, enc)
	}
}
