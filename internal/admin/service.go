package admin

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/credential"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/queue"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
)

// Service runs operator commands against the live database.
type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	queue       *queue.Queue
	senders     *services.SenderService
	usage       *services.UsageService
	// credits is nil unless multi-wallet mode is on.
	credits *services.CreditService
	// setSecret stores a keyring secret.
	setSecret func(key, value string) error
}

func NewService(db *sql.DB, m repomanager.RepositoryManager, q *queue.Queue, senders *services.SenderService, usage *services.UsageService, credits *services.CreditService) *Service {
	return &Service{
		db:          db,
		repomanager: m,
		queue:       q,
		senders:     senders,
		usage:       usage,
		credits:     credits,
		setSecret:   credential.Set,
	}
}

func (s *Service) Failed(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.queue.ListFailed(ctx, limit)
}

func (s *Service) Requeue(ctx context.Context, uid uint32) error {
	return s.queue.Requeue(ctx, uid)
}

func (s *Service) Usage(ctx context.Context, email string) (models.UsageSummary, error) {
	u, err := s.senders.Lookup(ctx, email)
	if err != nil {
		return models.UsageSummary{}, err
	}
	return s.usage.Summary(ctx, u)
}

func (s *Service) Revoke(ctx context.Context, email string) (int64, error) {
	if s.credits == nil {
		return 0, fmt.Errorf("multi-wallet mode is off: %w", common.ErrorNotSupported)
	}
	u, err := s.senders.Lookup(ctx, email)
	if err != nil {
		return 0, err
	}
	return s.credits.Revoke(ctx, u)
}

func (s *Service) Migrate(ctx context.Context) error {
	return s.repomanager.RunMigrations(ctx, s.db)
}

func (s *Service) SetSecret(key, value string) error {
	if !slices.Contains(credential.Keys, key) {
		return fmt.Errorf("unknown secret %q, want one of %v", key, credential.Keys)
	}
	return s.setSecret(key, value)
}
