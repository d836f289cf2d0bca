package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

// Enqueuer accepts "process item uid" jobs on the caller's transaction.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx dbx.DBTX, uid uint32) (bool, error)
}

type PollerConfig struct {
	Mailbox      string
	Interval     time.Duration
	LookbackDays int
	// ReconnectDelays escalate per failed attempt; the last one repeats.
	ReconnectDelays []time.Duration
}

// Poller watches the mailbox for unseen items and hands new ones to the queue.
type Poller struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	dialer      Dialer
	queue       Enqueuer
	cfg         PollerConfig
	logger      logging.Logger
	now         func() time.Time
}

func NewPoller(db *sql.DB, m repomanager.RepositoryManager, dialer Dialer, queue Enqueuer, cfg PollerConfig, logger logging.Logger) *Poller {
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = []time.Duration{5 * time.Second}
	}
	return &Poller{
		db:          db,
		repomanager: m,
		dialer:      dialer,
		queue:       queue,
		cfg:         cfg,
		logger:      logger.With("component", "poller", "mailbox", cfg.Mailbox),
		now:         time.Now,
	}
}

// Run polls until ctx is cancelled, reconnecting whenever the session drops.
func (p *Poller) Run(ctx context.Context) error {
	for {
		sess, err := p.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		p.loop(ctx, sess)

		if err := sess.Close(); err != nil {
			p.logger.Debug(ctx, "closing session", "error", err)
		}

		if ctx.Err() != nil {
			p.logger.Info(ctx, "poller stopped")
			return nil
		}
		p.logger.Warn(ctx, "mailbox connection lost, reconnecting")
	}
}

// reconnectBackoff walks the configured delays and stays on the last one.
// A fresh backoff is built for every connect episode.
func (p *Poller) reconnectBackoff() retry.Backoff {
	delays := p.cfg.ReconnectDelays
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d := delays[min(attempt, len(delays)-1)]
		attempt++
		return d, false
	})
}

func (p *Poller) connect(ctx context.Context) (Session, error) {
	var sess Session
	err := retry.Do(ctx, p.reconnectBackoff(), func(ctx context.Context) error {
		s, err := p.dialer.Dial(ctx)
		if err != nil {
			p.logger.Warn(ctx, "mailbox connect failed", "error", err)
			return retry.RetryableError(err)
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info(ctx, "mailbox connected")
	return sess, nil
}

func (p *Poller) loop(ctx context.Context, sess Session) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx, sess); err != nil {
			p.logger.Error(ctx, "poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs one poll cycle. The item row and its job are committed
// together, so a worker never claims a job whose row is missing. The item is
// marked seen only after that commit; a crash before it leaves the item
// eligible for the next cycle.
func (p *Poller) PollOnce(ctx context.Context, sess Session) error {
	since := p.now().AddDate(0, 0, -p.cfg.LookbackDays)

	uids, err := sess.SearchUnseen(ctx, since)
	if err != nil {
		return err
	}

	items := p.repomanager.Items(p.db)

	for _, uid := range uids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log := p.logger.With("uid", uid)

		exists, err := items.Exists(ctx, p.cfg.Mailbox, uid)
		if err != nil {
			return fmt.Errorf("check uid %d: %w", uid, err)
		}
		if exists {
			if err := sess.MarkSeen(ctx, uid); err != nil {
				log.Warn(ctx, "marking known item seen", "error", err)
			}
			continue
		}

		env, err := sess.FetchEnvelope(ctx, uid)
		if err != nil {
			log.Error(ctx, "fetching envelope", "error", err)
			continue
		}

		item := &models.ProcessedItem{
			Mailbox:   p.cfg.Mailbox,
			UID:       uid,
			MessageID: env.MessageID,
			Sender:    env.Sender,
			Subject:   env.Subject,
			Status:    models.ItemQueued,
			QueuedAt:  p.now(),
		}
		err = dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if _, err := p.repomanager.Items(tx).Insert(ctx, item); err != nil {
				return fmt.Errorf("persist: %w", err)
			}
			if _, err := p.queue.EnqueueTx(ctx, tx, uid); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("uid %d: %w", uid, err)
		}

		if err := sess.MarkSeen(ctx, uid); err != nil {
			log.Warn(ctx, "marking item seen", "error", err)
			continue
		}

		log.Info(ctx, "item queued", "sender", env.Sender)
	}

	return nil
}
