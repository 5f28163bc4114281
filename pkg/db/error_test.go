package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "pg serialization", err: &pgconn.PgError{Code: "40001"}, want: ErrSerializationFailure},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ErrSerializationFailure},
		{name: "pg lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: ErrSerializationFailure},
		{name: "mysql deadlock", err: &mysql.MySQLError{Number: 1213}, want: ErrSerializationFailure},
		{name: "mysql lock wait", err: &mysql.MySQLError{Number: 1205}, want: ErrSerializationFailure},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: ErrSerializationFailure},
		{name: "connection refused", err: &pgconn.PgError{Code: "08006"}, want: ErrStoreUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrStoreUnavailable},
		{name: "other", err: errors.New("boom"), want: ErrStoreUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(fmt.Errorf("wrapped: %w", tc.err))
			require.ErrorIs(t, got, tc.want)
			require.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.Equal(t, gorm.ErrRecordNotFound, Classify(gorm.ErrRecordNotFound))
	assert.Equal(t, gorm.ErrDuplicatedKey, Classify(gorm.ErrDuplicatedKey))

	once := Classify(errors.New("boom"))
	assert.Same(t, once, Classify(once))
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: identity_quotas.identity_key")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestIsUnavailableErr(t *testing.T) {
	assert.True(t, IsUnavailableErr(context.DeadlineExceeded))
	assert.True(t, IsUnavailableErr(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, IsUnavailableErr(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsUnavailableErr(nil))
}

func TestClassifyDriverErrorThroughGorm(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE blocking_states").
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	execErr := db.Exec("UPDATE blocking_states SET version = version + 1 WHERE identity_key = ?", "alice").Error
	require.Error(t, execErr)
	require.ErrorIs(t, Classify(execErr), ErrSerializationFailure)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportsRowLocking(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	assert.True(t, SupportsRowLocking(db))
	assert.False(t, SupportsRowLocking(nil))
}
