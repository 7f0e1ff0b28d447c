package models

import "time"

// User maps to the `users` table: the account record plus its wrapped DEK
// envelope and quota bookkeeping.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	WrappedDEK   []byte    `db:"wrapped_dek" json:"-"`
	DEKSalt      string    `db:"dek_salt" json:"-"`
	QuotaBytes   int64     `db:"quota_bytes" json:"quota_bytes"`
	UsedBytes    int64     `db:"used_bytes" json:"used_bytes"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableBytes returns the remaining quota headroom; never negative.
func (u *User) AvailableBytes() int64 {
	if u.UsedBytes >= u.QuotaBytes {
		return 0
	}
	return u.QuotaBytes - u.UsedBytes
}
