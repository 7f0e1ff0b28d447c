// Package session implements the Redis-backed session record store and the
// per-session DEK envelope described in DESIGN.md Open Question decision 1:
// the DEK is never held in the KV store in plaintext, only wrapped under a
// random per-session subkey that lives exclusively in the signed session
// cookie.
package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/security"
)

// ErrNotFound is returned when a session or CSRF token is absent or expired.
var ErrNotFound = errors.New("session: not found")

const (
	sessionKeyPrefix = "session:"
	csrfKeyPrefix    = "csrf:"
	csrfTTL          = 1 * time.Hour
)

// record is the value stored under session:{id}. EncryptedDEK/Nonce hold
// the DEK wrapped under the per-session subkey, never the plaintext DEK.
type record struct {
	UserID        string
	EncryptedDEK  []byte
	Nonce         []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Store wraps the Redis client used for session and CSRF token state.
type Store struct {
	redis  *redis.Client
	logger *logrus.Logger
}

func New(client *redis.Client, logger *logrus.Logger) *Store {
	return &Store{redis: client, logger: logger}
}

// Create starts a new session for userID holding dek. Returns the session
// id and the per-session subkey; both must be carried in the signed session
// cookie. The subkey never touches Redis.
func (s *Store) Create(ctx context.Context, userID string, dekPlain []byte, ttl time.Duration) (sessionID string, subkey []byte, err error) {
	subkey = make([]byte, security.KeySize)
	if _, err := rand.Read(subkey); err != nil {
		return "", nil, fmt.Errorf("session: generate subkey: %w", err)
	}

	encryptedDEK, nonce, err := security.Encrypt(subkey, dekPlain)
	if err != nil {
		return "", nil, fmt.Errorf("session: wrap dek: %w", err)
	}

	now := time.Now()
	rec := record{
		UserID:       userID,
		EncryptedDEK: encryptedDEK,
		Nonce:        nonce,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return "", nil, err
	}

	sessionID = uuid.New().String()
	if err := s.redis.Set(ctx, sessionKeyPrefix+sessionID, encoded, ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("session: persist: %w", err)
	}

	return sessionID, subkey, nil
}

// Resolve loads the session by id, validates it has not expired, and
// unwraps the DEK in-process using subkey (carried in the request's signed
// cookie). The returned DEK bytes should be wiped by the caller at the end
// of the request.
func (s *Store) Resolve(ctx context.Context, sessionID string, subkey []byte) (userID string, dekPlain []byte, err error) {
	raw, err := s.redis.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("session: load: %w", err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return "", nil, err
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = s.redis.Del(ctx, sessionKeyPrefix+sessionID).Err()
		return "", nil, ErrNotFound
	}

	plain, err := security.Decrypt(subkey, rec.EncryptedDEK, rec.Nonce)
	if err != nil {
		return "", nil, fmt.Errorf("session: unwrap dek: %w", err)
	}

	return rec.UserID, plain, nil
}

// Destroy deletes a session record (logout).
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

// IssueCSRF generates and stores a fresh 32-byte CSRF token with a 1-hour TTL.
func (s *Store) IssueCSRF(ctx context.Context) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generate csrf token: %w", err)
	}
	token := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	if err := s.redis.Set(ctx, csrfKeyPrefix+token, "valid", csrfTTL).Err(); err != nil {
		return "", fmt.Errorf("session: persist csrf token: %w", err)
	}
	return token, nil
}

// ValidateCSRF checks that token exists and has not expired.
func (s *Store) ValidateCSRF(ctx context.Context, token string) (bool, error) {
	err := s.redis.Get(ctx, csrfKeyPrefix+token).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: check csrf token: %w", err)
	}
	return true, nil
}

func encodeRecord(rec record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("session: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(raw []byte) (record, error) {
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return record{}, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, nil
}
