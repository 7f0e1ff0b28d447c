// Package kek implements the key-encryption-key registry: the table of
// versioned keys, themselves wrapped under the process master key, that
// every user DEK is in turn wrapped under.
package kek

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/security"
)

// ErrKEKVersionMissing is returned by ByVersion when no row exists for the
// requested version. The registry never mints a fresh key to paper over a
// missing version — doing so would silently orphan every File row that
// already points at the version that was actually lost. See DESIGN.md
// Open Question decision 5.
var ErrKEKVersionMissing = errors.New("kek: version not found")

// Row mirrors the `keks` table.
type Row struct {
	Version    int       `db:"version"`
	WrappedKey []byte    `db:"wrapped_key"`
	Nonce      []byte    `db:"nonce"`
	Active     bool      `db:"active"`
	Deprecated bool      `db:"deprecated"`
	CreatedAt  time.Time `db:"created_at"`
}

// Registry is the KEK cache + Postgres-backed store. The cache is a plain
// map guarded by an RWMutex with double-checked locking on miss, matching
// the teacher's rate-limiter map idiom.
type Registry struct {
	db        *sqlx.DB
	logger    *logrus.Logger
	masterKey []byte

	mu    sync.RWMutex
	cache map[int][]byte // version -> plaintext KEK bytes
}

func New(db *sqlx.DB, masterKey []byte, logger *logrus.Logger) *Registry {
	return &Registry{
		db:        db,
		logger:    logger,
		masterKey: masterKey,
		cache:     make(map[int][]byte),
	}
}

// EnsureSeed creates the version-1 KEK row if no active, non-deprecated row
// exists yet. This is the only code path permitted to insert a KEK row;
// ByVersion never does. Idempotent and safe to call on every boot.
func (r *Registry) EnsureSeed(ctx context.Context) error {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM keks WHERE active AND NOT deprecated`)
	if err != nil {
		return fmt.Errorf("kek: check existing seed: %w", err)
	}
	if count > 0 {
		return nil
	}

	plainKey, err := security.GenerateKey()
	if err != nil {
		return fmt.Errorf("kek: generate seed key: %w", err)
	}
	defer plainKey.Wipe()

	wrapped, nonce, err := security.Encrypt(r.masterKey, plainKey.Bytes())
	if err != nil {
		return fmt.Errorf("kek: wrap seed key: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO keks (version, wrapped_key, nonce, active, deprecated, created_at)
		VALUES (1, $1, $2, TRUE, FALSE, NOW())
		ON CONFLICT (version) DO NOTHING
	`, wrapped, nonce)
	if err != nil {
		return fmt.Errorf("kek: insert seed row: %w", err)
	}

	r.mu.Lock()
	buf := make([]byte, len(plainKey.Bytes()))
	copy(buf, plainKey.Bytes())
	r.cache[1] = buf
	r.mu.Unlock()

	r.logger.Info("kek: seeded version 1")
	return nil
}

// Active returns the highest-versioned active, non-deprecated KEK.
func (r *Registry) Active(ctx context.Context) (version int, plainKey []byte, err error) {
	var row Row
	err = r.db.GetContext(ctx, &row, `
		SELECT version, wrapped_key, nonce, active, deprecated, created_at
		FROM keks WHERE active AND NOT deprecated
		ORDER BY version DESC LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, fmt.Errorf("kek: no active kek: %w", err)
		}
		return 0, nil, fmt.Errorf("kek: query active: %w", err)
	}
	key, err := r.resolve(row)
	if err != nil {
		return 0, nil, err
	}
	return row.Version, key, nil
}

// ByVersion returns the plaintext KEK for the given version, cache-first.
// Returns ErrKEKVersionMissing if no row exists for that version.
func (r *Registry) ByVersion(ctx context.Context, version int) ([]byte, error) {
	r.mu.RLock()
	if key, ok := r.cache[version]; ok {
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.cache[version]; ok {
		return key, nil
	}

	var row Row
	err := r.db.GetContext(ctx, &row, `
		SELECT version, wrapped_key, nonce, active, deprecated, created_at
		FROM keks WHERE version = $1
	`, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKEKVersionMissing
		}
		return nil, fmt.Errorf("kek: query version %d: %w", version, err)
	}

	plain, err := security.Decrypt(r.masterKey, row.WrappedKey, row.Nonce)
	if err != nil {
		return nil, fmt.Errorf("kek: unwrap version %d: %w", version, err)
	}
	r.cache[version] = plain
	return plain, nil
}

// resolve is called with the read lock already released (Active does its
// own query, not a cache lookup by version) — cache the result keyed by
// version for subsequent ByVersion calls.
func (r *Registry) resolve(row Row) ([]byte, error) {
	r.mu.RLock()
	if key, ok := r.cache[row.Version]; ok {
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	plain, err := security.Decrypt(r.masterKey, row.WrappedKey, row.Nonce)
	if err != nil {
		return nil, fmt.Errorf("kek: unwrap version %d: %w", row.Version, err)
	}

	r.mu.Lock()
	r.cache[row.Version] = plain
	r.mu.Unlock()
	return plain, nil
}

// Wipe zeroizes every cached plaintext KEK. Called once at process shutdown.
func (r *Registry) Wipe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for v, key := range r.cache {
		for i := range key {
			key[i] = 0
		}
		delete(r.cache, v)
	}
}
