package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
)

// Admission is the outcome of a quota check.
type Admission struct {
	Allowed bool
	Reason  string
	Summary models.UsageSummary
}

// UsageService keeps the monthly per-user counters.
type UsageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	freeItems   int
	costPerItem int64
	policy      string
	hardCap     int
	now         func() time.Time
}

func NewUsageService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UsageService {
	return &UsageService{
		db:          db,
		repomanager: m,
		freeItems:   cfg.FreeItemsPerMonth,
		costPerItem: cfg.CostPerItemCents,
		policy:      cfg.OverQuotaPolicy,
		hardCap:     cfg.HardCapPerMonth,
		now:         time.Now,
	}
}

// monthWindow returns the UTC calendar month containing t as [start, end).
func monthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func (s *UsageService) period(ctx context.Context, userID string) (*models.UsagePeriod, error) {
	start, end := monthWindow(s.now())
	p, err := s.repomanager.Usage(s.db).GetOrCreate(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("usage period: %w", err)
	}
	return p, nil
}

func (s *UsageService) summary(p *models.UsagePeriod) models.UsageSummary {
	return models.UsageSummary{
		Items:       p.Items,
		FreeItems:   s.freeItems,
		Bytes:       p.Bytes,
		CostCents:   p.CostCents,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   p.PeriodEnd,
		Billed:      p.Billed,
	}
}

// Admit decides whether another item may be processed for u this month.
func (s *UsageService) Admit(ctx context.Context, u *models.User) (*Admission, error) {
	p, err := s.period(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	a := &Admission{Allowed: true, Summary: s.summary(p)}

	switch {
	case s.policy == config.QuotaBlock && p.Items >= s.freeItems:
		a.Allowed = false
		a.Reason = fmt.Sprintf("monthly limit of %d free items reached", s.freeItems)
	case s.hardCap > 0 && p.Items >= s.hardCap:
		a.Allowed = false
		a.Reason = fmt.Sprintf("monthly cap of %d items reached", s.hardCap)
	}

	return a, nil
}

// Record counts one processed item of size bytes. Items beyond the free
// allowance are charged and flag the period as billed.
func (s *UsageService) Record(ctx context.Context, u *models.User, bytes int64) (models.UsageSummary, error) {
	p, err := s.period(ctx, u.ID)
	if err != nil {
		return models.UsageSummary{}, err
	}

	var cost int64
	billed := p.Items >= s.freeItems
	if billed {
		cost = s.costPerItem
	}

	p, err = s.repomanager.Usage(s.db).Increment(ctx, p.ID, 1, bytes, cost, billed)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("record usage: %w", err)
	}
	return s.summary(p), nil
}

// Summary returns the current month for u without changing it.
func (s *UsageService) Summary(ctx context.Context, u *models.User) (models.UsageSummary, error) {
	p, err := s.period(ctx, u.ID)
	if err != nil {
		return models.UsageSummary{}, err
	}
	return s.summary(p), nil
}
