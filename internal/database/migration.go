package database

import (
	"errors"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return true
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// MigrationService applies the SQL migrations shipped with the binary.
type MigrationService struct {
	folder string
	logger ectologger.Logger
}

func NewMigrationService(folder string, logger ectologger.Logger) *MigrationService {
	return &MigrationService{
		folder: folder,
		logger: logger,
	}
}

// Migrate runs every pending up migration against the given driver.
func (ms *MigrationService) Migrate(databaseName string, driver migratedb.Driver) error {
	folder := ms.resolveFolder()
	if _, err := os.Stat(folder); err != nil {
		return fmt.Errorf("migration folder %s does not exist: %w", folder, err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = migrationLogger{Logger: ms.logger}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			ms.logger.Info("No new migrations to apply")
			return nil
		}
		version, dirty, _ := m.Version()
		ms.logger.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)
		return err
	}

	ms.logger.Info("Successfully applied migrations")
	return nil
}

func (ms *MigrationService) resolveFolder() string {
	if _, err := os.Stat(ms.folder); err == nil {
		return ms.folder
	}
	wd, _ := os.Getwd()
	return wd + string(os.PathSeparator) + ms.folder
}
