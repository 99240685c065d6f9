package model

import "time"

// BackupRecord tracks one uploaded database snapshot.
type BackupRecord struct {
	ID        int64
	Filename  string
	S3Key     string
	SizeBytes int64
	CreatedAt time.Time
}
