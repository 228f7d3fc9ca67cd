package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"

	"userprofile/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

//go:embed migrations
var migrationsFS embed.FS

// DB is a database handle that knows its driver, so repositories can rebind
// placeholders and pick dialect specific statements.
type DB struct {
	*sql.DB
	Driver string
}

// Wrap attaches a driver name to an existing handle.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{DB: db, Driver: normalizeDriver(driver)}
}

// Rebind converts '?' placeholders to the driver's bind style.
func (d *DB) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(d.Driver), query)
}

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	driver := normalizeDriver(dbType)
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case DriverSQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open(DriverSQLite, dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection keeps PRAGMAs and in-memory databases consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case DriverMySQL:
		db, err = sql.Open(DriverMySQL, mysqlDSN(dbCfg))
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, postgresDSN(dbCfg))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

func normalizeDriver(name string) string {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	default:
		return strings.ToLower(name)
	}
}

func mysqlDSN(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	params := c.Params
	if params == "" {
		params = "parseTime=true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.Username, c.Password, c.Host, c.Port, c.DBName, params)
}

func postgresDSN(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if c.Port != 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     host,
		Path:     "/" + c.DBName,
		RawQuery: c.Params,
	}
	return u.String()
}

func gooseDialect(driver string) (goose.Dialect, string, error) {
	switch driver {
	case DriverSQLite:
		return goose.DialectSQLite3, "migrations/sqlite3", nil
	case DriverMySQL:
		return goose.DialectMySQL, "migrations/mysql", nil
	case DriverPostgres:
		return goose.DialectPostgres, "migrations/postgres", nil
	default:
		return "", "", fmt.Errorf("unsupported driver for migration: %s", driver)
	}
}

// Migrate applies the embedded migrations for the handle's dialect.
func Migrate(ctx context.Context, db *DB) error {
	dialect, dir, err := gooseDialect(db.Driver)
	if err != nil {
		return err
	}
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", db.Driver, err)
	}
	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate (%s): %w", db.Driver, err)
	}
	return nil
}
