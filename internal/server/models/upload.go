package models

import "time"

// UploadRecord is an append-only record of an object written to the storage network.
type UploadRecord struct {
	ID            string
	UserID        string
	VaultID       string
	EntityID      string
	TransactionID string
	Size          int64
	ContentType   string
	CompletedAt   time.Time
}
