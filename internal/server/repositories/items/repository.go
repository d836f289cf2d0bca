package items

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, mailbox string, uid uint32) (*models.ProcessedItem, error)
	Exists(ctx context.Context, mailbox string, uid uint32) (bool, error)
	// Insert stores a new item and reports false if one with the same UID exists.
	Insert(ctx context.Context, item *models.ProcessedItem) (bool, error)
	// SetEnvelope records the item's sender, subject and message id. Empty
	// values leave the stored ones in place.
	SetEnvelope(ctx context.Context, mailbox string, uid uint32, sender, subject, messageID string) error
	SetStatus(ctx context.Context, mailbox string, uid uint32, status models.ItemStatus, lastError string) error
	SetResult(ctx context.Context, mailbox string, uid uint32, containerID, archiveRef, note string) error
}
