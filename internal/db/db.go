package db

import (
	"fmt"
	"time"

	"github.com/diewo77/go-factures/internal/config"
	"github.com/diewo77/go-factures/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connect opens the configured database. Connection attempts are retried a
// few times so the app can come up before Postgres finishes starting.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var conn *gorm.DB
	var err error
	for i := 0; i < 5; i++ {
		conn, err = gorm.Open(dialector(cfg), &gorm.Config{})
		if err == nil {
			return conn, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

func dialector(cfg config.DatabaseConfig) gorm.Dialector {
	if cfg.Driver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath)
	}
	return postgres.Open(cfg.DSN())
}

// Migrate applies the GORM auto-migrations for all models.
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.User{},
		&models.Invoice{},
		&models.InvoiceLine{},
	)
}
