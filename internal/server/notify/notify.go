// Package notify sends outcome emails to senders.
package notify

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

// Notifier delivers the per-item outcome messages.
type Notifier interface {
	SendConfirmation(ctx context.Context, to, archiveRef, subject string, usage models.UsageSummary) error
	SendWelcome(ctx context.Context, to, vaultID, shareKey string, usage models.UsageSummary) error
	SendQuotaExceeded(ctx context.Context, to, reason string, usage models.UsageSummary) error
	SendFailure(ctx context.Context, to, subject, errMsg string, attempts int) error
}
