package database

import "errors"

var (
	// ErrNotReady is returned by Check until startup has reached the database.
	ErrNotReady = errors.New("database not ready")
	// ErrNoMigrator is returned by Start when migrate_on_start is set but no
	// Migrator was supplied.
	ErrNoMigrator = errors.New("migrate_on_start set but no migrator configured")
)
