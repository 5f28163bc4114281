package db

import (
	"testing"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewConfigConvertsPoolSettings(t *testing.T) {
	cfg := config.Config{
		DBType:            " Postgres ",
		DBHost:            "db.internal",
		DBPort:            "5432",
		DBName:            "quotaguard",
		DBUser:            "qg",
		DBPassword:        "secret",
		DBMaxIdleConn:     5,
		DBMaxOpenConn:     20,
		DBConnMaxLifetime: 300,
		DBConnMaxIdleTime: 60,
	}
	cfg.Timeouts.Store = 400 * time.Millisecond

	got := NewConfig(cfg)
	require.Equal(t, DialectPostgres, got.Type)
	require.Equal(t, 5*time.Minute, got.ConnMaxLifetime)
	require.Equal(t, time.Minute, got.ConnMaxIdleTime)
	require.Equal(t, 100*time.Millisecond, got.SlowQuery)
	require.NoError(t, got.Validate())
	require.NotContains(t, got.String(), "secret")
	require.Equal(t, "postgres://qg@db.internal:5432/quotaguard", got.String())
}

func TestNewConfigKeepsDefaultSlowQuery(t *testing.T) {
	cfg := config.Config{DBType: "sqlite"}
	cfg.Timeouts.Store = 5 * time.Second

	got := NewConfig(cfg)
	require.Equal(t, defaultSlowQuery, got.SlowQuery)
	require.Equal(t, "sqlite:quotaguard.db", got.String())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "sqlite without host", cfg: Config{Type: DialectSQLite, Name: "dev"}, ok: true},
		{name: "mysql", cfg: Config{Type: DialectMySQL, Host: "h", Name: "n"}, ok: true},
		{name: "postgres missing host", cfg: Config{Type: DialectPostgres, Name: "n"}},
		{name: "unknown type", cfg: Config{Type: "oracle", Host: "h", Name: "n"}},
		{name: "idle over open", cfg: Config{Type: DialectSQLite, MaxIdleConn: 10, MaxOpenConn: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDialectRejectsInvalidConfig(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	d, err := Dialect(Config{Type: DialectSQLite, Name: t.TempDir() + "/qg"})
	require.NoError(t, err)
	require.Equal(t, DialectSQLite, d.Name())
}
