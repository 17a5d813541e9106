package vigil

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

// newDatabase opens the configured database and migrates the models.
func newDatabase(cfg *Config, handler slog.Handler) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseType {
	case dbTypeSQLite, "":
		dialector = sqlite.Open(cfg.Database)
	case dbTypePostgres:
		dialector = postgres.Open(cfg.Database)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.DatabaseType)
	}

	db, err := gorm.Open(
		dialector, &gorm.Config{
			Logger: newGORMLogger(handler, cfg.DatabaseSlowThreshold),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.AutoMigrate(
		&GuildModule{},
		&ResponderEvent{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}
