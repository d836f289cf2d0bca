package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const periodColumns = `id, user_id, period_start, period_end, items, bytes, cost_cents, billed`

func scanPeriod(row *sql.Row) (*models.UsagePeriod, error) {
	p := &models.UsagePeriod{}
	err := row.Scan(&p.ID, &p.UserID, &p.PeriodStart, &p.PeriodEnd, &p.Items, &p.Bytes, &p.CostCents, &p.Billed)
	return p, err
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, userID string, start, end time.Time) (*models.UsagePeriod, error) {
	query :=
		`INSERT INTO usage_periods (user_id, period_start, period_end)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, period_start) DO UPDATE SET period_end = EXCLUDED.period_end
		 RETURNING ` + periodColumns

	p, err := scanPeriod(r.db.QueryRowContext(ctx, query, userID, start, end))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Find(ctx context.Context, userID string, at time.Time) (*models.UsagePeriod, error) {
	query :=
		`SELECT ` + periodColumns + `
		 FROM usage_periods
		 WHERE user_id = $1 AND period_start <= $2 AND period_end > $2`

	p, err := scanPeriod(r.db.QueryRowContext(ctx, query, userID, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Increment(ctx context.Context, id int64, items int, bytes, costCents int64, billed bool) (*models.UsagePeriod, error) {
	query :=
		`UPDATE usage_periods
		 SET items = items + $2, bytes = bytes + $3, cost_cents = cost_cents + $4, billed = billed OR $5
		 WHERE id = $1
		 RETURNING ` + periodColumns

	p, err := scanPeriod(r.db.QueryRowContext(ctx, query, id, items, bytes, costCents, billed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
