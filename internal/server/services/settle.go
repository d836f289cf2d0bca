package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/sethvargo/go-retry"
)

// EntityRef points at an entity written to the storage network.
type EntityRef struct {
	VaultID  string
	EntityID string
}

// Settler waits until a freshly written entity may be referenced again.
type Settler interface {
	Settle(ctx context.Context, ref EntityRef) error
}

var errNotIndexed = errors.New("entity not indexed yet")

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FixedDelay pauses for a flat interval after every write.
type FixedDelay struct {
	delay time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewFixedDelay(d time.Duration) *FixedDelay {
	return &FixedDelay{delay: d, sleep: sleepContext}
}

func (f *FixedDelay) Settle(ctx context.Context, _ EntityRef) error {
	return f.sleep(ctx, f.delay)
}

// PollUntilIndexed polls the network index until the entity shows up or the
// timeout elapses. A timeout is logged and otherwise ignored.
type PollUntilIndexed struct {
	checker  network.IndexChecker
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
}

func NewPollUntilIndexed(checker network.IndexChecker, interval, timeout time.Duration, logger logging.Logger) *PollUntilIndexed {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollUntilIndexed{checker: checker, interval: interval, timeout: timeout, logger: logger}
}

func (p *PollUntilIndexed) Settle(ctx context.Context, ref EntityRef) error {
	b := retry.WithMaxDuration(p.timeout, retry.NewConstant(p.interval))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ok, err := p.checker.IsIndexed(ctx, ref.VaultID, ref.EntityID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ok {
			return retry.RetryableError(errNotIndexed)
		}
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn(ctx, "entity not indexed before timeout", "vault_id", ref.VaultID, "entity_id", ref.EntityID, "error", err)
	}
	return nil
}
