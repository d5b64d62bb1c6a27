// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// File is the metadata row of a stored file or folder. Ciphertext lives in
// chunk blobs described by Chunk rows; legacy files instead point at a single
// blob encrypted directly with the user key.
type File struct {
	ID       string
	UserID   string
	ParentID *string
	Name     string
	// Path is the virtual path, e.g. "/docs/report.pdf".
	Path     string
	Size     int64
	MimeType string
	IsFolder bool

	// UploadStatus is common.UploadStatusPending until every chunk row is
	// committed, then common.UploadStatusCompleted.
	UploadStatus string

	LegacyStoragePath string
	LegacyNonce       []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (f *File) IsComplete() bool {
	return f.UploadStatus == common.UploadStatusCompleted
}

func (f *File) IsLegacy() bool {
	return f.LegacyStoragePath != ""
}
