package models

import "time"

type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// ProcessedItem tracks one mailbox item by UID from poll time to its final outcome.
type ProcessedItem struct {
	Mailbox     string
	UID         uint32
	MessageID   string
	Sender      string
	Subject     string
	Status      ItemStatus
	QueuedAt    time.Time
	ProcessedAt *time.Time
	LastError   string
	ContainerID string
	ArchiveRef  string
	Note        string
}

// Terminal reports whether no further processing may change the item.
func (i *ProcessedItem) Terminal() bool {
	return i.Status == ItemCompleted
}
