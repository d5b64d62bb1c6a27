// Package chunkstore persists encrypted chunk blobs, either on the local
// filesystem or in a remote object API (Google Drive, OneDrive, S3).
package chunkstore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

const (
	BackendLocal       = "local"
	BackendGoogleDrive = "google_drive"
	BackendOneDrive    = "onedrive"
	BackendS3          = "s3"
)

// ChunkRef identifies the chunk being written.
type ChunkRef struct {
	UserID string
	FileID string
	Index  int
}

// ObjectName is the blob name used by every backend: "<fileID>_<index>.enc".
func (r ChunkRef) ObjectName() string {
	return fmt.Sprintf("%s_%d.enc", r.FileID, r.Index)
}

// Locator says where a blob lives. Local blobs set Path; remote blobs set
// RemoteID and Backend.
type Locator struct {
	Path     string
	RemoteID string
	Backend  string
}

// LocatorOf extracts the locator persisted in a chunk row.
func LocatorOf(c *models.Chunk) Locator {
	if c.IsRemote() {
		return Locator{RemoteID: c.RemoteID, Backend: c.RemoteBackend}
	}
	return Locator{Path: c.StoragePath, Backend: BackendLocal}
}

// Apply copies the locator into a chunk row.
func (l Locator) Apply(c *models.Chunk) {
	c.StoragePath = l.Path
	c.RemoteID = l.RemoteID
	c.RemoteBackend = ""
	if l.RemoteID != "" {
		c.RemoteBackend = l.Backend
	}
}

// Store reads and writes ciphertext blobs. Implementations never retry;
// callers decide what to do with common.ErrTransient.
type Store interface {
	Backend() string
	// Put durably writes data; the blob is readable once Put returns.
	Put(ctx context.Context, ref ChunkRef, data []byte) (Locator, error)
	// Get returns common.ErrorNotFound for a missing blob.
	Get(ctx context.Context, userID string, loc Locator) ([]byte, error)
	// Delete removes a blob. A missing blob is not an error.
	Delete(ctx context.Context, userID string, loc Locator) error
}
