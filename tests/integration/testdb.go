// Package integration provides integration testing utilities for the credits
// backend. It uses testcontainers to spin up real PostgreSQL databases.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// One container shared across all tests in a package that opt into it.
var (
	sharedContainer    testcontainers.Container
	sharedContainerMu  sync.Mutex
	sharedContainerDSN string
)

// TestDB represents a test database connection
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// startPostgresContainer launches a PostgreSQL container and returns it with
// its connection string.
func startPostgresContainer(t *testing.T, dbName string) (testcontainers.Container, string) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(dbName),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	return container, dsn
}

// NewTestDB creates a fresh PostgreSQL container for one test, giving it
// complete isolation. The container is terminated on cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	container, dsn := startPostgresContainer(t, "facturio_test")

	db, sqlDB := connectToDatabase(t, dsn)
	runMigrations(t, sqlDB)

	testDB := &TestDB{
		DB:        db,
		SqlDB:     sqlDB,
		Container: container,
		DSN:       dsn,
		t:         t,
	}

	t.Cleanup(testDB.Close)

	return testDB
}

// NewSharedTestDB returns a connection to a package-wide shared container.
// Cheaper than NewTestDB, but callers must clean up the rows they create.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer == nil {
		container, dsn := startPostgresContainer(t, "facturio_shared_test")
		sharedContainer = container
		sharedContainerDSN = dsn

		// Migrations run once, on a throwaway connection.
		_, sqlDB := connectToDatabase(t, dsn)
		runMigrations(t, sqlDB)
		sqlDB.Close()
	}

	db, sqlDB := connectToDatabase(t, sharedContainerDSN)

	testDB := &TestDB{
		DB:        db,
		SqlDB:     sqlDB,
		Container: sharedContainer,
		DSN:       sharedContainerDSN,
		t:         t,
	}

	t.Cleanup(func() {
		if testDB.SqlDB != nil {
			testDB.SqlDB.Close()
		}
	})

	return testDB
}

// Close closes the connection and terminates the container unless it is the
// shared one.
func (tdb *TestDB) Close() {
	if tdb.SqlDB != nil {
		tdb.SqlDB.Close()
	}

	if tdb.Container != nil && tdb.Container != sharedContainer {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			tdb.t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}

// CleanLedger removes all balance and transaction rows, keeping the seeded
// plan catalog intact
func (tdb *TestDB) CleanLedger() {
	tdb.t.Helper()

	for _, table := range []string{"credit_transactions", "credit_balances"} {
		err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error
		require.NoError(tdb.t, err, "Failed to truncate table %s", table)
	}
}

// BackdatePeriod moves a user's billing period back by the given number of
// months so a refill becomes due
func (tdb *TestDB) BackdatePeriod(userID string, months int) {
	tdb.t.Helper()

	err := tdb.DB.Exec(`
		UPDATE credit_balances
		SET period_start = period_start - make_interval(months => ?),
		    period_end   = period_end   - make_interval(months => ?)
		WHERE user_id = ?
	`, months, months, userID).Error
	require.NoError(tdb.t, err, "Failed to backdate billing period")
}

// connectToDatabase establishes a GORM connection to the database
func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	logMode := logger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		logMode = logger.Info
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

// runMigrations applies all database migrations
func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	migrationsPath := findMigrationsPath()
	require.NotEmpty(t, migrationsPath, "Could not find migrations directory")

	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	require.NoError(t, err, "Failed to create migration driver")

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsPath,
		"postgres",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to run migrations")
	}
}

// findMigrationsPath walks up from this file and from the working directory
// looking for the migrations directory.
func findMigrationsPath() string {
	var roots []string
	if _, filename, _, ok := runtime.Caller(0); ok {
		roots = append(roots, filepath.Dir(filename))
	}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}

	for _, dir := range roots {
		for i := 0; i < 5; i++ {
			candidate := filepath.Join(dir, "migrations")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			dir = filepath.Dir(dir)
		}
	}

	return ""
}

// CleanupSharedContainer terminates the shared container. Call it from
// TestMain when NewSharedTestDB is used.
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sharedContainer.Terminate(ctx)
		sharedContainer = nil
		sharedContainerDSN = ""
	}
}
