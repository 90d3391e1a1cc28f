package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	gooseDatabase "github.com/pressly/goose/v3/database"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migrate applies the pending auth table migrations for driver to db.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *logrus.Logger) error {
	provider, err := newMigrationProvider(db, driver)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, result := range results {
		logger.WithFields(logrus.Fields{
			"migration": result.Source.Path,
			"duration":  result.Duration.String(),
		}).Info("Applied database migration")
	}

	if len(results) == 0 {
		logger.WithField("driver", driver).Debug("Database schema is up to date")
	}
	return nil
}

func newMigrationProvider(db *sql.DB, driver string) (*goose.Provider, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	subFS, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, subFS)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, nil
}

func dialectFor(driver string) (gooseDatabase.Dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return goose.DialectPostgres, nil
	case config.DriverMySQL:
		return goose.DialectMySQL, nil
	default:
		return "", fmt.Errorf("no migrations for database driver: %s", driver)
	}
}
