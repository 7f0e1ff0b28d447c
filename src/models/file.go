package models

import (
	"database/sql"
	"time"
)

// File maps to the `files` table. ChunkTable is the length-prefixed binary
// encoding of the (index, nonce, staged filename, size) tuples produced by
// the chunktable package; it is persisted opaquely and only decoded by the
// download streamer.
type File struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	FolderID      sql.NullString `db:"folder_id" json:"folder_id,omitempty"`
	Filename      string         `db:"filename" json:"filename"`
	TotalChunks   int            `db:"total_chunks" json:"total_chunks"`
	ChunkTable    []byte         `db:"chunk_table" json:"-"`
	WrappedDEK    []byte         `db:"wrapped_dek" json:"-"`
	DEKNonce      []byte         `db:"dek_nonce" json:"-"`
	DEKKEKVersion int            `db:"dek_kek_version" json:"-"`
	SizeBytes     int64          `db:"size_bytes" json:"size_bytes"`
	Mime          string         `db:"mime" json:"mime"`
	Checksum      sql.NullString `db:"checksum" json:"checksum,omitempty"`
	Status        string         `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt     sql.NullTime   `db:"deleted_at" json:"-"`
}

// IsDeleted reports whether the file has been soft-deleted.
func (f *File) IsDeleted() bool { return f.DeletedAt.Valid }

// Response is the safe, client-facing view of a File.
type Response struct {
	ID          string    `json:"id"`
	FolderID    *string   `json:"folder_id,omitempty"`
	Filename    string    `json:"filename"`
	TotalChunks int       `json:"total_chunks"`
	SizeBytes   int64     `json:"size_bytes"`
	Mime        string    `json:"mime"`
	Checksum    *string   `json:"checksum,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (f *File) ToResponse() Response {
	resp := Response{
		ID:          f.ID,
		Filename:    f.Filename,
		TotalChunks: f.TotalChunks,
		SizeBytes:   f.SizeBytes,
		Mime:        f.Mime,
		Status:      f.Status,
		CreatedAt:   f.CreatedAt,
	}
	if f.FolderID.Valid {
		resp.FolderID = &f.FolderID.String
	}
	if f.Checksum.Valid {
		resp.Checksum = &f.Checksum.String
	}
	return resp
}
