// Package server wires the mail archiving pipeline together: the mailbox
// poller, the durable work queue and the processor that drains it.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/filex"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/mailbox"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/dmitrijs2005/mailvault/internal/server/notify"
	"github.com/dmitrijs2005/mailvault/internal/server/queue"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 2 * time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	queue   *queue.Queue
	worker  *queue.Worker
	poller  *mailbox.Poller
	fetcher *mailbox.SourceFetcher
}

// OpenDB connects to Postgres through the pgx stdlib driver.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewSealer builds the credential sealer from the configured master key,
// preferring the raw hex key over the passphrase.
func NewSealer(c *config.Config) (*cryptox.Sealer, error) {
	var key []byte
	if c.MasterKeyHex != "" {
		k, err := cryptox.KeyFromHex(c.MasterKeyHex)
		if err != nil {
			return nil, err
		}
		key = k
	} else {
		key = cryptox.KeyFromPassphrase(c.MasterPassphrase)
	}
	return cryptox.NewSealer(key)
}

func newSettler(c *config.Config, checker network.IndexChecker, logger logging.Logger) services.Settler {
	if c.SettlePolicy == config.SettlePoll {
		return services.NewPollUntilIndexed(checker, c.SettlePollInterval, c.SettleTimeout, logger)
	}
	return services.NewFixedDelay(c.SettleDelay)
}

// NewGateway connects to the S3-compatible bucket holding vaults and wallets.
func NewGateway(ctx context.Context, c *config.Config) (*network.S3Gateway, error) {
	g, err := network.NewS3Gateway(ctx, network.S3Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		CreditPerMiB: c.CreditPerMiB,
	})
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	return g, nil
}

// NewCredits returns the credit allocator in multi-wallet mode and nil otherwise.
func NewCredits(db *sql.DB, m repomanager.RepositoryManager, wallets network.Wallets, sealer *cryptox.Sealer, c *config.Config, logger logging.Logger) *services.CreditService {
	if !c.MultiWallet {
		return nil
	}
	return services.NewCreditService(db, m, wallets, sealer, c, logger.With("component", "credits"))
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogBackend, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	sealer, err := NewSealer(c)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	gateway, err := NewGateway(ctx, c)
	if err != nil {
		return nil, err
	}

	credits := NewCredits(db, rm, gateway, sealer, c, logger)

	tempDir, err := filex.EnsureDir(c.TempDir)
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	c.TempDir = tempDir

	locker, err := services.NewLocker(c.LockStrategy, db, logger)
	if err != nil {
		return nil, err
	}

	settler := newSettler(c, gateway, logger)

	dialer := mailbox.NewIMAPDialer(mailbox.IMAPConfig{
		Host:     c.IMAPHost,
		Port:     c.IMAPPort,
		Username: c.IMAPUsername,
		Password: c.IMAPPassword,
		TLS:      c.IMAPTLS,
		Mailbox:  c.Mailbox,
	})
	fetcher := mailbox.NewSourceFetcher(dialer)

	notifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		TLS:      c.SMTPTLS,
	})

	processor := services.NewProcessor(db, rm, services.Pipeline{
		Fetcher:  fetcher,
		Senders:  services.NewSenderService(db, rm, c),
		Usage:    services.NewUsageService(db, rm, c),
		Vaults:   services.NewVaultService(db, rm, gateway, sealer, settler, logger.With("component", "vaults")),
		Folders:  services.NewFolderService(db, rm, gateway, locker, settler, c.DedupLeafContainers, logger.With("component", "folders")),
		Credits:  credits,
		Client:   gateway,
		Notifier: notifier,
	}, c, logger)

	q := queue.New(db, rm, queue.Config{
		MaxAttempts: c.QueueMaxAttempts,
		BaseDelay:   c.QueueBaseDelay,
		StaleAfter:  c.QueueStaleAfter,
	}, logger.With("component", "queue"))

	poller := mailbox.NewPoller(db, rm, dialer, q, mailbox.PollerConfig{
		Mailbox:         c.Mailbox,
		Interval:        c.PollInterval,
		LookbackDays:    c.LookbackDays,
		ReconnectDelays: c.ReconnectDelays,
	}, logger.With("component", "poller"))

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		queue:   q,
		worker:  queue.NewWorker(q, processor, c.QueueConcurrency, c.QueuePollInterval, logger),
		poller:  poller,
		fetcher: fetcher,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run polls and processes until a signal arrives, then waits for in-flight
// jobs before closing connections.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if _, err := app.queue.RecoverStale(ctx); err != nil {
		app.logger.Error(ctx, "recovering stale jobs", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.poller.Run(gctx) })
	g.Go(func() error { return app.worker.Run(gctx) })

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		app.logger.Error(ctx, "pipeline stopped", "error", runErr)
	}

	app.logger.Info(ctx, "draining in-flight jobs")
	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancelDrain()
	if err := app.worker.Drain(drainCtx); err != nil {
		app.logger.Warn(ctx, "drain timed out", "error", err)
	}

	if err := app.fetcher.Close(); err != nil {
		app.logger.Warn(ctx, "closing mailbox session", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "closing db", "error", err)
	}

	app.logger.Info(ctx, "stopped")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
