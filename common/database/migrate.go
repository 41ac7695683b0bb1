package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationResult reports the schema state after Migrate.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies every pending up migration found under dir in fsys. The
// run is bounded by DefaultMigrateTimeout; when ctx ends first, migrate is
// asked to stop after the migration in progress.
func Migrate(ctx context.Context, fsys fs.FS, dir, databaseURL string) (MigrationResult, error) {
	ctx, cancel := MigrateContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return MigrationResult{}, fmt.Errorf("run migrations: %w", err)
	}

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- m.Up() }()

	var upErr error
	select {
	case upErr = <-done:
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return MigrationResult{}, fmt.Errorf("run migrations: %w", ctx.Err())
	}

	result := MigrationResult{Changed: true}
	if err := upErr; err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("run migrations: %w", err)
		}
		result.Changed = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("read migration version: %w", err)
	}
	result.Version = version
	result.Dirty = dirty
	return result, nil
}
