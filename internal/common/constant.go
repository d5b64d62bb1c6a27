package common

const (
	// DefaultChunkSize is the plaintext size of every chunk except the last.
	DefaultChunkSize = 10 * 1024 * 1024

	// DefaultStorageQuota is assigned to users without an explicit quota.
	DefaultStorageQuota int64 = 10 * 1024 * 1024 * 1024

	// Upload states persisted in files.upload_status.
	UploadStatusPending   = "pending"
	UploadStatusCompleted = "completed"
)
