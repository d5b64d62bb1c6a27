package models

import "time"

type User struct {
	ID                string
	Email             string
	StorageQuotaBytes int64
	CreatedAt         time.Time
}
