package services

import (
	"context"
	"fmt"
)

// StorageUsage is how much of a user's quota their files take up. Pending
// uploads count, folders do not.
type StorageUsage struct {
	UsedBytes  int64
	QuotaBytes int64
}

// AvailableBytes is never negative.
func (u StorageUsage) AvailableBytes() int64 {
	return max(u.QuotaBytes-u.UsedBytes, 0)
}

// Percent is the used share of the quota in the range [0, 100] when the
// user is within quota. A zero quota with anything stored reports 100.
func (u StorageUsage) Percent() float64 {
	if u.QuotaBytes <= 0 {
		if u.UsedBytes > 0 {
			return 100
		}
		return 0
	}
	return float64(u.UsedBytes) / float64(u.QuotaBytes) * 100
}

// Fits reports whether size more bytes stay within the quota.
func (u StorageUsage) Fits(size int64) bool {
	return u.UsedBytes+size <= u.QuotaBytes
}

// StorageUsage returns the current usage of userID.
func (s *FileService) StorageUsage(ctx context.Context, userID string) (StorageUsage, error) {
	user, err := s.repomanager.Users(s.db).Get(ctx, userID)
	if err != nil {
		return StorageUsage{}, fmt.Errorf("error getting user: %w", err)
	}
	used, err := s.repomanager.Files(s.db).UsedBytes(ctx, userID)
	if err != nil {
		return StorageUsage{}, fmt.Errorf("error getting used space: %w", err)
	}
	return StorageUsage{UsedBytes: used, QuotaBytes: user.StorageQuotaBytes}, nil
}
