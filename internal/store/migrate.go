package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/pairchat/internal/store/migrations"
)

// ErrDirtySchema means a previous migration failed halfway. The database
// needs manual repair before the coordinator can use it.
var ErrDirtySchema = errors.New("store: schema is dirty")

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate brings the schema up to the newest embedded version.
func (db *DB) Migrate() (*MigrateResult, error) {
	return db.migrateWith(func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateTo moves the schema to exactly version, up or down. Version 0
// drops everything.
func (db *DB) MigrateTo(version uint) (*MigrateResult, error) {
	if version == 0 {
		return db.migrateWith(func(m *migrate.Migrate) error { return m.Down() })
	}
	return db.migrateWith(func(m *migrate.Migrate) error { return m.Migrate(version) })
}

func (db *DB) migrateWith(step func(*migrate.Migrate) error) (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	if _, dirty, err := m.Version(); err == nil && dirty {
		return nil, ErrDirtySchema
	}

	changed := true
	if err := step(m); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		changed = false
	}

	version, err := db.SchemaVersion()
	if err != nil {
		return nil, err
	}
	return &MigrateResult{Version: version, Changed: changed}, nil
}

// SchemaVersion reports the applied migration version, 0 for an empty
// database.
func (db *DB) SchemaVersion() (uint, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return version, ErrDirtySchema
	}
	return version, nil
}
