// Package telemetry provides OpenTelemetry integration for distributed tracing.
package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls query span generation.
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL includes statement text with bind values in spans. Dev
	// only, production spans must not carry user data.
	LogFullSQL bool
	// SlowQueryThresh marks queries flagged as slow, default 200ms.
	SlowQueryThresh time.Duration
	// DBSystem names the backing database, default "postgresql".
	DBSystem string
	// WithoutVariables strips bind values from recorded SQL.
	WithoutVariables bool
}

// DefaultDBTracingConfig returns the secure defaults: tracing off, no SQL
// text, no bind values.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:          false,
		LogFullSQL:       false,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin layers slow query detection and error marking on top of
// the otelgorm spans.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm attaches otelgorm plus the timing callbacks to the DB
// handle. Registering twice fails on duplicate callback names.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}

	// Ledger writes carry user IDs in their bind parameters, so spans
	// only include them when full SQL logging is explicitly requested.
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	// Timing callbacks run before each operation, the slow query check
	// runs after otelgorm has opened the span.
	if err := registerBeforeCallbacks(db, "otel_timing", setQueryStartTime); err != nil {
		return err
	}
	if err := registerAfterCallbacks(db, "otel_slow_query", p.slowQueryCallback); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

// callbackHook abstracts the Before/After registration point of one GORM
// operation processor.
type callbackHook func(name string, fn func(*gorm.DB)) error

// registerAllOperations attaches fn to every operation type via the hooks
// returned by pick.
func registerAllOperations(db *gorm.DB, prefix, suffix string, fn func(*gorm.DB), pick func(*gorm.DB) map[string]callbackHook) error {
	for op, hook := range pick(db) {
		if err := hook(prefix+":"+suffix+"_"+op, fn); err != nil {
			return err
		}
	}
	return nil
}

// registerBeforeCallbacks attaches fn in front of every GORM operation type.
func registerBeforeCallbacks(db *gorm.DB, prefix string, fn func(*gorm.DB)) error {
	return registerAllOperations(db, prefix, "before", fn, func(db *gorm.DB) map[string]callbackHook {
		cb := db.Callback()
		return map[string]callbackHook{
			"create": cb.Create().Before("gorm:create").Register,
			"query":  cb.Query().Before("gorm:query").Register,
			"update": cb.Update().Before("gorm:update").Register,
			"delete": cb.Delete().Before("gorm:delete").Register,
			"row":    cb.Row().Before("gorm:row").Register,
			"raw":    cb.Raw().Before("gorm:raw").Register,
		}
	})
}

// registerAfterCallbacks attaches fn behind every GORM operation type.
func registerAfterCallbacks(db *gorm.DB, prefix string, fn func(*gorm.DB)) error {
	return registerAllOperations(db, prefix, "after", fn, func(db *gorm.DB) map[string]callbackHook {
		cb := db.Callback()
		return map[string]callbackHook{
			"create": cb.Create().After("gorm:create").Register,
			"query":  cb.Query().After("gorm:query").Register,
			"update": cb.Update().After("gorm:update").Register,
			"delete": cb.Delete().After("gorm:delete").Register,
			"row":    cb.Row().After("gorm:row").Register,
			"raw":    cb.Raw().After("gorm:raw").Register,
		}
	})
}

// setQueryStartTime stamps the statement context so the after callback can
// compute elapsed time.
func setQueryStartTime(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// slowQueryCallback annotates the active span with row counts, errors and
// slow query events.
func (p *DBTracingPlugin) slowQueryCallback(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// Record-not-found is routine for first-time balance lookups and must
	// not mark the span as failed.
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		elapsed := time.Since(startTime)
		if elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"
