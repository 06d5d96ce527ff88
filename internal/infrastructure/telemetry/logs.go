package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogsConfig holds the OTLP log export settings.
type LogsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
}

// LoggerProvider owns the SDK logger provider lifecycle. With export
// disabled it stays a shell whose methods are all no-ops.
type LoggerProvider struct {
	provider *sdklog.LoggerProvider
	logger   *zap.Logger
	config   LogsConfig
}

// NewLoggerProvider builds a LoggerProvider exporting over OTLP gRPC and
// installs it as the global provider.
func NewLoggerProvider(ctx context.Context, cfg LogsConfig, logger *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{logger: logger, config: cfg}

	if !cfg.Enabled {
		logger.Info("OTEL Logs disabled, using no-op logger provider")
		return lp, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}

	// Same resource identity as the tracer, see tracer.go.
	res, err := newTraceResource(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	lp.provider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(lp.provider)

	logger.Info("OpenTelemetry LoggerProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.String("service_name", cfg.ServiceName),
	)
	return lp, nil
}

// Shutdown flushes buffered records and releases the exporter. Bounded to
// ten seconds so a dead collector cannot hang process exit.
func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if lp.provider == nil {
		return nil
	}

	lp.logger.Info("Shutting down OpenTelemetry LoggerProvider...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := lp.provider.Shutdown(shutdownCtx); err != nil {
		lp.logger.Error("Error shutting down logger provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown logger provider: %w", err)
	}
	return nil
}

// IsEnabled reports whether records actually leave the process.
func (lp *LoggerProvider) IsEnabled() bool {
	return lp.config.Enabled && lp.provider != nil
}

// GetConfig returns a copy of the logs configuration.
func (lp *LoggerProvider) GetConfig() LogsConfig {
	return lp.config
}

// ForceFlush pushes out everything the batch processor is holding.
func (lp *LoggerProvider) ForceFlush(ctx context.Context) error {
	if lp.provider == nil {
		return nil
	}
	return lp.provider.ForceFlush(ctx)
}

// GetLoggerProvider exposes the SDK provider, nil when export is off.
func (lp *LoggerProvider) GetLoggerProvider() *sdklog.LoggerProvider {
	return lp.provider
}

// ZapBridgeConfig configures the zap to OTEL record bridge.
type ZapBridgeConfig struct {
	ServiceName    string
	LoggerProvider *LoggerProvider
	// Level is the minimum level forwarded to the collector.
	Level zapcore.Level
}

// NewZapOTELCore returns a zapcore.Core that forwards entries to the OTEL
// logs pipeline. Tee it with the stdout core so both destinations see the
// same entries. A disabled provider yields a nop core.
func NewZapOTELCore(cfg ZapBridgeConfig) zapcore.Core {
	if cfg.LoggerProvider == nil || !cfg.LoggerProvider.IsEnabled() {
		return zapcore.NewNopCore()
	}

	core := otelzap.NewCore(cfg.ServiceName,
		otelzap.WithLoggerProvider(cfg.LoggerProvider.provider),
	)

	// otelzap has no minimum level of its own, so anything above debug
	// gets a filtering wrapper.
	if cfg.Level != zapcore.DebugLevel {
		return &levelFilterCore{Core: core, minLevel: cfg.Level}
	}
	return core
}

// levelFilterCore drops entries below minLevel before they reach the
// wrapped core.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.minLevel && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

// With must keep the filter wrapper, otherwise child loggers would start
// leaking debug entries to the collector.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), minLevel: c.minLevel}
}

// NewBridgedLogger tees the base core with the OTEL core so every entry is
// written to both destinations.
func NewBridgedLogger(baseCore, otelCore zapcore.Core, opts ...zap.Option) *zap.Logger {
	return zap.New(zapcore.NewTee(baseCore, otelCore), opts...)
}

// BaseLoggerConfig describes the local (stdout or file) half of a bridged
// logger.
type BaseLoggerConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr
	TimeFormat string
}

// DefaultBaseLoggerConfig is the development preset.
func DefaultBaseLoggerConfig() *BaseLoggerConfig {
	return &BaseLoggerConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// CreateBridgedLoggerFromConfig assembles the full dual-output logger: a
// local core per baseConfig plus an OTEL bridge core at the same level.
func CreateBridgedLoggerFromConfig(
	baseConfig *BaseLoggerConfig,
	logsProvider *LoggerProvider,
	serviceName string,
) (*zap.Logger, error) {
	baseCore := createBaseCore(baseConfig)

	otelCore := NewZapOTELCore(ZapBridgeConfig{
		ServiceName:    serviceName,
		LoggerProvider: logsProvider,
		Level:          parseLogLevel(baseConfig.Level),
	})

	return NewBridgedLogger(baseCore, otelCore,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func createBaseCore(cfg *BaseLoggerConfig) zapcore.Core {
	return zapcore.NewCore(createLogEncoder(cfg), createLogWriter(cfg.Output), parseLogLevel(cfg.Level))
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func createLogEncoder(cfg *BaseLoggerConfig) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(cfg.TimeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func createLogWriter(output string) zapcore.WriteSyncer {
	switch output {
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		return zapcore.AddSync(os.Stdout)
	}
}
