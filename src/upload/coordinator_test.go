package upload

import (
	"context"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/kek"
	"github.com/cryptvault/api/src/metrics"
	"github.com/cryptvault/api/src/models"
	"github.com/cryptvault/api/src/quota"
)

type fakeFileInserter struct {
	inserted *models.File
}

func (f *fakeFileInserter) InsertTx(ctx context.Context, tx *sqlx.Tx, file *models.File) error {
	f.inserted = file
	return nil
}

type fakeFolderChecker struct {
	owned bool
}

func (f *fakeFolderChecker) BelongsToUser(ctx context.Context, folderID, userID string) (bool, error) {
	return f.owned, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeFileInserter, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dbx := sqlx.NewDb(db, "postgres")

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	ledger := quota.New(dbx, m, logger)
	registry := kek.New(dbx, make([]byte, 32), logger)
	files := &fakeFileInserter{}
	folders := &fakeFolderChecker{owned: true}

	stagingDir := t.TempDir()

	coord := New(rdb, ledger, registry, files, folders, stagingDir, 6291456, 53687091200, 4, m, logger)
	return coord, files, mock
}

func testDEK() []byte { return make([]byte, 32) }

func TestInitRejectsWhenLockHeld(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.redis.Set(ctx, lockKey("user-1"), "1", uploadTTL).Err())

	_, err := coord.Init(ctx, "user-1", "a.txt", 100, 1, "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitRejectsOversizedFile(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Init(ctx, "user-1", "a.txt", coord.maxFileSize+1, 1, "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestInitChecksQuotaThenCreatesSession(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT quota_bytes, used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"quota_bytes", "used_bytes"}).AddRow(1000, 0))
	mock.ExpectCommit()

	uploadID, err := coord.Init(ctx, "user-1", "a.txt", 100, 2, "")
	require.NoError(t, err)
	assert.NotEmpty(t, uploadID)

	exists, err := coord.redis.Exists(ctx, lockKey("user-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitRejectsOverQuota(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT quota_bytes, used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"quota_bytes", "used_bytes"}).AddRow(1000, 950))
	mock.ExpectRollback()

	_, err := coord.Init(ctx, "user-1", "a.txt", 100, 2, "")
	require.Error(t, err)

	exists, err := coord.redis.Exists(ctx, lockKey("user-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func mustInit(t *testing.T, coord *Coordinator, mock sqlmock.Sqlmock, totalBytes int64, totalChunks int) string {
	t.Helper()
	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT quota_bytes, used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"quota_bytes", "used_bytes"}).AddRow(1000000, 0))
	mock.ExpectCommit()

	uploadID, err := coord.Init(ctx, "user-1", "a.txt", totalBytes, totalChunks, "")
	require.NoError(t, err)
	return uploadID
}

func TestChunkAccumulatesAndStagesFile(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 2)

	received, total, err := coord.Chunk(ctx, "user-1", uploadID, 0, []byte("0123456789"), testDEK())
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.Equal(t, 2, total)

	received, total, err = coord.Chunk(ctx, "user-1", uploadID, 1, []byte("9876543210"), testDEK())
	require.NoError(t, err)
	assert.Equal(t, 2, received)
	assert.Equal(t, 2, total)

	entries, err := os.ReadDir(coord.stagingDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestChunkResendDoesNotDoubleCount(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 2)

	received, _, err := coord.Chunk(ctx, "user-1", uploadID, 0, []byte("first"), testDEK())
	require.NoError(t, err)
	assert.Equal(t, 1, received)

	received, _, err = coord.Chunk(ctx, "user-1", uploadID, 0, []byte("resend"), testDEK())
	require.NoError(t, err)
	assert.Equal(t, 1, received)
}

func TestChunkRejectsOutOfRangeIndex(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 2)

	_, _, err := coord.Chunk(ctx, "user-1", uploadID, 5, []byte("data"), testDEK())
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestFinalizeRejectsIncompleteUpload(t *testing.T) {
	coord, files, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 2)
	_, _, err := coord.Chunk(ctx, "user-1", uploadID, 0, []byte("only one chunk"), testDEK())
	require.NoError(t, err)

	_, err = coord.Finalize(ctx, "user-1", uploadID, nil, testDEK())
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Nil(t, files.inserted)

	exists, err := coord.redis.Exists(ctx, metaKey("user-1", uploadID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestFinalizeCommitsFileAndClearsSession(t *testing.T) {
	coord, files, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 1)
	_, _, err := coord.Chunk(ctx, "user-1", uploadID, 0, []byte("entire file contents"), testDEK())
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM keks WHERE active AND NOT deprecated`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO keks`).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, coord.kekRegistry.EnsureSeed(ctx))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT quota_bytes, used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"quota_bytes", "used_bytes"}).AddRow(1000000, 0))
	mock.ExpectExec(`UPDATE users SET used_bytes = used_bytes \+ \$1 WHERE id = \$2`).
		WithArgs(int64(20), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	file, err := coord.Finalize(ctx, "user-1", uploadID, nil, testDEK())
	require.NoError(t, err)
	assert.Equal(t, "a.txt", file.Filename)
	assert.Same(t, file, files.inserted)

	exists, err := coord.redis.Exists(ctx, metaKey("user-1", uploadID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestCancelIsIdempotent(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	err := coord.Cancel(ctx, "user-1", "nonexistent-upload")
	require.NoError(t, err)
}

func TestCancelRemovesStagedChunksAndSession(t *testing.T) {
	coord, _, mock := newTestCoordinator(t)
	ctx := context.Background()

	uploadID := mustInit(t, coord, mock, 20, 2)
	_, _, err := coord.Chunk(ctx, "user-1", uploadID, 0, []byte("abc"), testDEK())
	require.NoError(t, err)

	require.NoError(t, coord.Cancel(ctx, "user-1", uploadID))

	entries, err := os.ReadDir(coord.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	exists, err := coord.redis.Exists(ctx, metaKey("user-1", uploadID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
