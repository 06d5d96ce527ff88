package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig tunes database metrics collection.
type DBMetricsConfig struct {
	Enabled bool
	// SlowQueryThreshold marks queries counted as slow, default 200ms.
	SlowQueryThreshold time.Duration
	// PoolStatsInterval is the connection pool sampling period, default 15s.
	PoolStatsInterval time.Duration
}

// DefaultDBMetricsConfig returns the production defaults.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics bundles the query and pool instruments plus the sampling
// goroutine's state.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queryTotal         *Counter
	queryDuration      *Histogram
	slowQueryTotal     *Counter

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewDBMetrics creates the instrument set on the given meter. Zero config
// values fall back to the defaults.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	var err error
	gauge := func(name, desc string) *Gauge {
		if err != nil {
			return nil
		}
		var g *Gauge
		g, err = NewGauge(meter, name, desc, "{connection}")
		return g
	}
	counter := func(name, desc string) *Counter {
		if err != nil {
			return nil
		}
		var c *Counter
		c, err = NewCounter(meter, name, desc, "{query}")
		return c
	}

	m.poolConnections = gauge("db_pool_connections", "Number of connections in the pool by state")
	m.poolConnectionsMax = gauge("db_pool_connections_max", "Maximum number of connections in the pool")
	m.queryTotal = counter("db_query_total", "Total number of database queries by operation type")
	m.slowQueryTotal = counter("db_slow_query_total", "Total number of queries over the slow threshold")
	if err != nil {
		return nil, err
	}

	m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency distribution in seconds",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetSQLDB hands over the pool handle. Must happen before
// StartPoolStatsCollection.
func (m *DBMetrics) SetSQLDB(sqlDB *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sqlDB = sqlDB
}

// StartPoolStatsCollection spawns the periodic pool sampler. Stop ends it.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()

	if sqlDB == nil {
		m.logger.Warn("Cannot start pool stats collection: sqlDB not set")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.collectPoolStats(ctx)

		for {
			select {
			case <-ticker.C:
				m.collectPoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	m.logger.Info("Started database connection pool stats collection",
		zap.Duration("interval", m.config.PoolStatsInterval),
	)
}

func (m *DBMetrics) collectPoolStats(ctx context.Context) {
	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()

	if sqlDB == nil {
		return
	}

	stats := sqlDB.Stats()

	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))

	// OpenConnections = Idle + InUse. WaitCount is cumulative rather than
	// a current state, so it is not reported here.
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop terminates the sampler and waits for it. Idempotent, shutdown paths
// call it more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// RecordQuery counts a finished query and its latency.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration, err error) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "UNKNOWN"
	}

	m.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
	m.queryDuration.RecordDuration(ctx, duration, AttrDBOperation.String(operation))

	// A debit that crosses the slow threshold holds the user's balance row
	// lock longer than it should, so slow queries get their own counter.
	if duration > m.config.SlowQueryThreshold {
		tableName := table
		if tableName == "" {
			tableName = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(tableName))
	}
}

// DBMetricsPlugin feeds query timings from GORM callbacks into DBMetrics.
type DBMetricsPlugin struct {
	metrics *DBMetrics
	logger  *zap.Logger
}

func NewDBMetricsPlugin(metrics *DBMetrics, logger *zap.Logger) *DBMetricsPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBMetricsPlugin{metrics: metrics, logger: logger}
}

func (p *DBMetricsPlugin) Name() string {
	return "db_metrics"
}

// Initialize hooks the before/after callbacks into every GORM operation.
func (p *DBMetricsPlugin) Initialize(db *gorm.DB) error {
	if err := registerBeforeCallbacks(db, "db_metrics", stampMetricsStart); err != nil {
		return err
	}
	if err := p.registerAfterCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("Database metrics plugin initialized")
	return nil
}

// stampMetricsStart stores the operation start time on the statement context.
func stampMetricsStart(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, dbMetricsStartTimeKey, time.Now())
}

// registerAfterCallbacks wires the per-verb recorders. Create/Query/Update/
// Delete map directly to SQL verbs; Row and Raw carry arbitrary SQL and get
// sniffed.
func (p *DBMetricsPlugin) registerAfterCallbacks(db *gorm.DB) error {
	after := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) {
			p.recordMetrics(db, operation)
		}
	}
	sniffed := func(db *gorm.DB) {
		p.recordMetrics(db, detectOperationType(db.Statement.SQL.String()))
	}

	if err := db.Callback().Create().After("gorm:create").Register("db_metrics:after_create", after("INSERT")); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("db_metrics:after_query", after("SELECT")); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("db_metrics:after_update", after("UPDATE")); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("db_metrics:after_delete", after("DELETE")); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register("db_metrics:after_row", sniffed); err != nil {
		return err
	}
	return db.Callback().Raw().After("gorm:raw").Register("db_metrics:after_raw", sniffed)
}

func (p *DBMetricsPlugin) recordMetrics(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var duration time.Duration
	if startTime, ok := ctx.Value(dbMetricsStartTimeKey).(time.Time); ok {
		duration = time.Since(startTime)
	}

	p.metrics.RecordQuery(ctx, operation, db.Statement.Table, duration, db.Error)
}

var sqlVerbs = []string{"SELECT", "INSERT", "UPDATE", "DELETE"}

// detectOperationType sniffs the SQL verb from raw statement text.
func detectOperationType(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range sqlVerbs {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}

type dbMetricsContextKey string

const dbMetricsStartTimeKey dbMetricsContextKey = "db_metrics_start_time"

// RegisterDBMetrics creates the instrument set, attaches the GORM plugin and
// hands back the DBMetrics for lifecycle management. Returns nil when
// metrics are off.
func RegisterDBMetrics(db *gorm.DB, meterProvider *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled {
		logger.Debug("Database metrics disabled, skipping registration")
		return nil, nil
	}
	if meterProvider == nil || !meterProvider.IsEnabled() {
		logger.Debug("MeterProvider not available, skipping database metrics")
		return nil, nil
	}

	metrics, err := NewDBMetrics(meterProvider.Meter("db.client"), cfg, logger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	metrics.SetSQLDB(sqlDB)

	if err := db.Use(NewDBMetricsPlugin(metrics, logger)); err != nil {
		return nil, err
	}

	logger.Info("Database metrics registered",
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
		zap.Duration("pool_stats_interval", cfg.PoolStatsInterval),
	)

	return metrics, nil
}
