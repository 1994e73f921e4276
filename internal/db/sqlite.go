package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"backend-cycletracker/internal/config"
)

// ConnectSQLite opens the on-device recovery database. An empty path yields nil.
func ConnectSQLite(cfg config.Config) (*gorm.DB, error) {
	if cfg.RecoverySQLitePath == "" {
		return nil, nil
	}
	return gorm.Open(sqlite.Open(cfg.RecoverySQLitePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}
