package db

import (
	"fmt"

	"github.com/kasuganosora/walkietalkie/server/config"
	dbmysql "github.com/kasuganosora/walkietalkie/server/db/mysql"
	dbpostgres "github.com/kasuganosora/walkietalkie/server/db/postgres"
	dbsqlite "github.com/kasuganosora/walkietalkie/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite, "":
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(dbmysql.Options{
			DSN:      cfg.MySQLDSN,
			Replicas: cfg.MySQLReplicas,
			MaxOpen:  cfg.MaxOpen,
			MaxIdle:  cfg.MaxIdle,
			MaxLife:  cfg.MaxLife,
		})
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
