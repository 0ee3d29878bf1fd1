package database

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/psds-microservice/ticketform-service/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

func ensureDatabase(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name is empty in url")
	}
	u.Path = "/postgres"
	db, err := sql.Open("postgres", u.String())
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping admin connection: %w", err)
	}
	var exists bool
	if err := db.QueryRow("SELECT true FROM pg_database WHERE datname = $1", dbName).Scan(&exists); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}
	if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	logger.WithComponent("database").Info("database created", "name", dbName)
	return nil
}

// withGoose открывает соединение через lib/pq и настраивает goose на встроенные миграции.
func withGoose(databaseURL string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn(db)
}

func MigrateUp(databaseURL string) error {
	if err := ensureDatabase(databaseURL); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	log := logger.WithComponent("migration.goose")
	return withGoose(databaseURL, func(db *sql.DB) error {
		from, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("current version: %w", err)
		}
		if err := goose.Up(db, migrationsDir); err != nil {
			return fmt.Errorf("up: %w", err)
		}
		to, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("final version: %w", err)
		}
		if from == to {
			log.Info("no pending migrations", "version", to)
		} else {
			log.Info("migrations applied", "from_version", from, "to_version", to)
		}
		return nil
	})
}

// MigrateDown откатывает одну последнюю миграцию.
func MigrateDown(databaseURL string) error {
	return withGoose(databaseURL, func(db *sql.DB) error {
		if err := goose.Down(db, migrationsDir); err != nil {
			return fmt.Errorf("down: %w", err)
		}
		return nil
	})
}

func MigrateStatus(databaseURL string) error {
	return withGoose(databaseURL, func(db *sql.DB) error {
		return goose.Status(db, migrationsDir)
	})
}
