package migration

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrator applies the SQL migrations that define the ledger schema.
// It wraps golang-migrate with structured logging.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// New builds a Migrator on an open database handle.
func New(db *sql.DB, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// NewFromURL builds a Migrator that opens its own connection from a
// database URL.
func NewFromURL(databaseURL, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// apply runs one migrate call, treating ErrNoChange as success.
func (m *Migrator) apply(run func() error, failMsg, noChangeMsg string) (changed bool, err error) {
	err = run()
	if err != nil && err != migrate.ErrNoChange {
		return false, fmt.Errorf("%s: %w", failMsg, err)
	}
	if err == migrate.ErrNoChange {
		m.logger.Info(noChangeMsg)
		return false, nil
	}
	return true, nil
}

// logSchemaVersion reports the schema version now active. A nil version
// means every migration was rolled back.
func (m *Migrator) logSchemaVersion(msg string) error {
	version, dirty, err := m.migrate.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	m.logger.Info(msg,
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	m.logger.Info("Running migrations up")

	changed, err := m.apply(m.migrate.Up, "migration up failed", "No migrations to apply")
	if err != nil || !changed {
		return err
	}
	return m.logSchemaVersion("Migrations completed")
}

// Down rolls back every applied migration.
func (m *Migrator) Down() error {
	m.logger.Info("Running migrations down")

	changed, err := m.apply(m.migrate.Down, "migration down failed", "No migrations to roll back")
	if err != nil || !changed {
		return err
	}

	m.logger.Info("All migrations rolled back")
	return nil
}

// Steps applies n migrations, negative n rolls back.
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Running migration steps", zap.Int("steps", n))

	changed, err := m.apply(func() error { return m.migrate.Steps(n) },
		"migration steps failed", "No migrations to apply")
	if err != nil || !changed {
		return err
	}
	return m.logSchemaVersion("Migration steps completed")
}

// GoTo migrates up or down until the given version is active.
func (m *Migrator) GoTo(version uint) error {
	m.logger.Info("Migrating to version", zap.Uint("target_version", version))

	changed, err := m.apply(func() error { return m.migrate.Migrate(version) },
		fmt.Sprintf("migration to version %d failed", version), "Already at target version")
	if err != nil || !changed {
		return err
	}

	m.logger.Info("Migration to version completed", zap.Uint("version", version))
	return nil
}

// Version returns the active schema version. A database with no applied
// migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force overwrites the recorded version without running anything. Only for
// repairing a dirty state.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	m.logger.Info("Migration version forced", zap.Int("version", version))
	return nil
}

// Drop destroys every object in the database, including the transaction
// ledger.
func (m *Migrator) Drop() error {
	m.logger.Warn("Dropping database - all data will be lost")

	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	m.logger.Info("Database dropped")
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
