package models

import (
	"database/sql"
	"time"
)

// Folder maps to the `folders` table. Supplemented from original_source's
// dropped folder handlers — not in the distilled spec's component table,
// but its HTTP surface lists folder routes that need a backing model.
type Folder struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	ParentID  sql.NullString `db:"parent_id" json:"parent_id,omitempty"`
	Name      string         `db:"name" json:"name"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
