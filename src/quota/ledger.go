// Package quota implements the transactional quota ledger: admission at
// finalize, release on soft-delete, and authoritative recomputation.
package quota

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/metrics"
)

// Ledger wraps the Postgres handle used for every quota-affecting
// transaction. Every method that mutates used_bytes takes a *sqlx.Tx so
// callers can compose it with the surrounding File insert/update in one
// atomic unit, matching the original implementation's single-transaction
// admission-plus-debit shape.
type Ledger struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func New(db *sqlx.DB, m *metrics.Metrics, logger *logrus.Logger) *Ledger {
	return &Ledger{db: db, metrics: m, logger: logger}
}

// userRow is the subset of the users table the ledger needs under lock.
type userRow struct {
	QuotaBytes int64 `db:"quota_bytes"`
	UsedBytes  int64 `db:"used_bytes"`
}

// CheckAvailable opens a transaction, locks the user row, and confirms
// requested bytes fit within the remaining quota — without mutating
// anything. Used by upload init, where the transaction exists purely for
// read consistency (decision: quota is never debited at init).
func (l *Ledger) CheckAvailable(ctx context.Context, userID string, requested int64) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("quota: begin tx", err)
	}
	defer tx.Rollback()

	row, err := lockUser(ctx, tx, userID)
	if err != nil {
		return err
	}

	if requested > row.QuotaBytes-row.UsedBytes {
		return apperr.Validation("insufficient storage quota")
	}

	return tx.Commit()
}

// AdmitAndCommit locks the user row, verifies requested bytes fit, debits
// used_bytes, and calls fn (typically the File insert) within the same
// transaction. If fn returns an error or the quota check fails, the whole
// transaction rolls back — finalize is all-or-nothing.
func (l *Ledger) AdmitAndCommit(ctx context.Context, userID string, requested int64, fn func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("quota: begin tx", err)
	}
	defer tx.Rollback()

	row, err := lockUser(ctx, tx, userID)
	if err != nil {
		return err
	}

	if requested > row.QuotaBytes-row.UsedBytes {
		return apperr.Validation("insufficient storage quota")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET used_bytes = used_bytes + $1 WHERE id = $2`, requested, userID); err != nil {
		return apperr.Storage("quota: debit", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("quota: commit", err)
	}
	if l.metrics != nil {
		l.metrics.SetQuotaUtilization(userID, row.UsedBytes+requested, row.QuotaBytes)
	}
	return nil
}

// Release credits size bytes back to the user inside fn's transaction
// (typically the file's soft-delete update), clamped at zero.
func (l *Ledger) Release(ctx context.Context, tx *sqlx.Tx, userID string, size int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET used_bytes = GREATEST(0, used_bytes - $1) WHERE id = $2`, size, userID)
	if err != nil {
		return apperr.Storage("quota: release", err)
	}

	if l.metrics != nil {
		var row userRow
		if err := tx.GetContext(ctx, &row, `SELECT quota_bytes, used_bytes FROM users WHERE id = $1`, userID); err == nil {
			l.metrics.SetQuotaUtilization(userID, row.UsedBytes, row.QuotaBytes)
		}
	}
	return nil
}

// Recompute overwrites used_bytes with the authoritative sum of live file
// sizes for the user, inside its own transaction. Callable directly by an
// authenticated user or by the scheduled reconciliation job (C16).
func (l *Ledger) Recompute(ctx context.Context, userID string) (actualBytes int64, err error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperr.Storage("quota: begin tx", err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &actualBytes, `
		SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE user_id = $1 AND deleted_at IS NULL
	`, userID)
	if err != nil {
		return 0, apperr.Storage("quota: sum files", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET used_bytes = $1 WHERE id = $2`, actualBytes, userID); err != nil {
		return 0, apperr.Storage("quota: apply recompute", err)
	}

	var quotaBytes int64
	if err := tx.GetContext(ctx, &quotaBytes, `SELECT quota_bytes FROM users WHERE id = $1`, userID); err != nil {
		return 0, apperr.Storage("quota: read quota for recompute", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Storage("quota: commit", err)
	}
	if l.metrics != nil {
		l.metrics.SetQuotaUtilization(userID, actualBytes, quotaBytes)
	}
	return actualBytes, nil
}

// Info returns a read-only snapshot of the user's quota/used/available
// bytes, without locking the row (matches the original's unlocked
// storage_info read path).
func (l *Ledger) Info(ctx context.Context, userID string) (quotaBytes, usedBytes int64, err error) {
	var row userRow
	err = l.db.GetContext(ctx, &row, `SELECT quota_bytes, used_bytes FROM users WHERE id = $1`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, apperr.NotFound("user not found")
		}
		return 0, 0, apperr.Storage("quota: read info", err)
	}
	return row.QuotaBytes, row.UsedBytes, nil
}

func lockUser(ctx context.Context, tx *sqlx.Tx, userID string) (userRow, error) {
	var row userRow
	err := tx.GetContext(ctx, &row, `SELECT quota_bytes, used_bytes FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return userRow{}, apperr.NotFound("user not found")
		}
		return userRow{}, apperr.Storage("quota: lock user row", err)
	}
	return row, nil
}
