package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_db_config")

const defaultSlowQuery = 200 * time.Millisecond

// Config is the connection and pool configuration of the ledger store.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SlowQuery is the duration above which a statement is logged at warn.
	SlowQuery time.Duration
}

func NewConfig(cfg config.Config) Config {
	slow := defaultSlowQuery
	if quarter := cfg.Timeouts.Store / 4; quarter > 0 && quarter < slow {
		slow = quarter
	}
	return Config{
		Type:            strings.ToLower(strings.TrimSpace(cfg.DBType)),
		Host:            strings.TrimSpace(cfg.DBHost),
		Port:            strings.TrimSpace(cfg.DBPort),
		Name:            strings.TrimSpace(cfg.DBName),
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
		SlowQuery:       slow,
	}
}

// Validate rejects settings the store cannot start with.
func (c Config) Validate() error {
	switch c.Type {
	case DialectPostgres, DialectMySQL:
		if c.Host == "" || c.Name == "" {
			return fmt.Errorf("%w: %s requires DATABASE_HOST and DATABASE_NAME", ErrInvalidConfig, c.Type)
		}
	case DialectSQLite:
	default:
		return fmt.Errorf("%w: unsupported DATABASE_TYPE %q", ErrInvalidConfig, c.Type)
	}
	if c.MaxOpenConn > 0 && c.MaxIdleConn > c.MaxOpenConn {
		return fmt.Errorf("%w: %d idle connections exceed the %d open limit", ErrInvalidConfig, c.MaxIdleConn, c.MaxOpenConn)
	}
	return nil
}

// String describes the target without credentials.
func (c Config) String() string {
	if c.Type == DialectSQLite {
		return c.Type + ":" + c.sqliteFile()
	}
	return fmt.Sprintf("%s://%s@%s:%s/%s", c.Type, c.User, c.Host, c.Port, c.Name)
}

func (c Config) sqliteFile() string {
	if c.Name == "" {
		return "quotaguard.db"
	}
	return c.Name + ".db"
}
