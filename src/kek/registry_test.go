package kek

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/security"
)

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock, []byte) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dbx := sqlx.NewDb(db, "postgres")
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	masterKey, err := security.GenerateKey()
	require.NoError(t, err)

	return New(dbx, masterKey.Bytes(), logger), mock, masterKey.Bytes()
}

func TestEnsureSeedInsertsWhenAbsent(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM keks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO keks`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := reg.EnsureSeed(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSeedNoopWhenPresent(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM keks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := reg.EnsureSeed(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByVersionReturnsErrKEKVersionMissing(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)

	mock.ExpectQuery(`SELECT version, wrapped_key, nonce, active, deprecated, created_at`).
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	_, err := reg.ByVersion(context.Background(), 99)
	assert.ErrorIs(t, err, ErrKEKVersionMissing)
}

func TestByVersionCachesResult(t *testing.T) {
	reg, mock, masterKey := newTestRegistry(t)

	plain, err := security.GenerateKey()
	require.NoError(t, err)
	wrapped, nonce, err := security.Encrypt(masterKey, plain.Bytes())
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT version, wrapped_key, nonce, active, deprecated, created_at`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"version", "wrapped_key", "nonce", "active", "deprecated", "created_at"}).
			AddRow(1, wrapped, nonce, true, false, time.Now()))

	got, err := reg.ByVersion(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, plain.Bytes(), got)

	// Second call must not issue another query (cache hit).
	got2, err := reg.ByVersion(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, plain.Bytes(), got2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
