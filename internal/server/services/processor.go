package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/filex"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/dmitrijs2005/mailvault/internal/server/notify"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

const archiveContentType = "message/rfc822"

// noteConfirmed is stored once the confirmation for an archived item is out.
// Every outcome email sets a note, so a non-empty note means the sender
// has heard back.
const noteConfirmed = "confirmation sent"

// SourceFetcher loads the raw form of a mailbox item.
type SourceFetcher interface {
	FetchSource(ctx context.Context, uid uint32) ([]byte, error)
}

// Pipeline groups the collaborators a Processor drives. Credits is nil
// unless multi-wallet mode is on.
type Pipeline struct {
	Fetcher  SourceFetcher
	Senders  *SenderService
	Usage    *UsageService
	Vaults   *VaultService
	Folders  *FolderService
	Credits  *CreditService
	Client   network.Client
	Notifier notify.Notifier
}

// Processor archives one mailbox item per job. It implements queue.Handler.
type Processor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	Pipeline
	mailbox  string
	maxBytes int64
	tempDir  string
	logger   logging.Logger
	now      func() time.Time
}

func NewProcessor(db *sql.DB, m repomanager.RepositoryManager, p Pipeline, cfg *config.Config, logger logging.Logger) *Processor {
	return &Processor{
		db:          db,
		repomanager: m,
		Pipeline:    p,
		mailbox:     cfg.Mailbox,
		maxBytes:    cfg.MaxArchiveBytes,
		tempDir:     cfg.TempDir,
		logger:      logger.With("component", "processor"),
		now:         time.Now,
	}
}

// parsedItem is what the pipeline needs from the raw message.
type parsedItem struct {
	from       string
	subject    string
	messageID  string
	receivedAt time.Time
}

func parseItem(raw []byte) (*parsedItem, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, common.Permanent(fmt.Errorf("%w: %v", common.ErrorCorruptItem, err))
	}
	defer mr.Close()

	from, err := mr.Header.AddressList("From")
	if err != nil || len(from) == 0 {
		return nil, common.Permanent(fmt.Errorf("%w: missing sender", common.ErrorCorruptItem))
	}

	p := &parsedItem{from: from[0].Address}
	p.subject, _ = mr.Header.Subject()
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		p.messageID = "<" + id + ">"
	}
	if d, err := mr.Header.Date(); err == nil && !d.IsZero() {
		p.receivedAt = d.UTC()
	}
	return p, nil
}

// Handle runs the pipeline for job. A completed item is left untouched, so
// duplicate jobs for one UID are harmless.
func (p *Processor) Handle(ctx context.Context, job *models.Job) error {
	items := p.repomanager.Items(p.db)
	log := p.logger

	item, err := items.Get(ctx, p.mailbox, job.UID)
	if errors.Is(err, common.ErrorNotFound) {
		item = &models.ProcessedItem{Mailbox: p.mailbox, UID: job.UID, Status: models.ItemQueued, QueuedAt: p.now()}
		if _, err = items.Insert(ctx, item); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get item: %w", err)
	}

	if item.Terminal() {
		log.Info(ctx, "item already completed, skipping")
		return nil
	}

	// An earlier attempt delivered the outcome but failed to record completion.
	if item.Note != "" {
		log.Info(ctx, "item outcome already delivered, recording completion", "entity_id", item.ArchiveRef, "note", item.Note)
		if err := items.SetStatus(ctx, p.mailbox, job.UID, models.ItemCompleted, ""); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	}

	if err := items.SetStatus(ctx, p.mailbox, job.UID, models.ItemProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.run(ctx, item, log); err != nil {
		if serr := items.SetStatus(ctx, p.mailbox, job.UID, models.ItemFailed, err.Error()); serr != nil {
			log.Error(ctx, "marking item failed", "error", serr)
		}
		return err
	}

	if err := items.SetStatus(ctx, p.mailbox, job.UID, models.ItemCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	log.Info(ctx, "item completed")
	return nil
}

func (p *Processor) run(ctx context.Context, item *models.ProcessedItem, log logging.Logger) error {
	items := p.repomanager.Items(p.db)

	if item.ArchiveRef != "" {
		log.Info(ctx, "item already archived, resending confirmation", "entity_id", item.ArchiveRef)
		return p.reconfirm(ctx, item)
	}

	raw, err := p.Fetcher.FetchSource(ctx, item.UID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.Permanent(fmt.Errorf("fetch item: %w", err))
		}
		return fmt.Errorf("fetch item: %w", err)
	}

	parsed, err := parseItem(raw)
	if err != nil {
		return err
	}
	if parsed.receivedAt.IsZero() {
		parsed.receivedAt = p.now().UTC()
	}

	if err := items.SetEnvelope(ctx, p.mailbox, item.UID, parsed.from, parsed.subject, parsed.messageID); err != nil {
		return fmt.Errorf("save envelope: %w", err)
	}

	u, err := p.Senders.Resolve(ctx, parsed.from)
	if err != nil {
		return err
	}
	log = log.With("user_id", u.ID)

	adm, err := p.Usage.Admit(ctx, u)
	if err != nil {
		return err
	}
	if !adm.Allowed {
		log.Info(ctx, "item blocked by quota", "reason", adm.Reason)
		if err := p.Notifier.SendQuotaExceeded(ctx, u.Email, adm.Reason, adm.Summary); err != nil {
			return fmt.Errorf("send quota notice: %w", err)
		}
		return items.SetResult(ctx, p.mailbox, item.UID, "", "", adm.Reason)
	}

	size := int64(len(raw))
	if p.maxBytes > 0 && size > p.maxBytes {
		log.Warn(ctx, "item exceeds size ceiling, not archived", "size", size, "limit", p.maxBytes)
		msg := fmt.Sprintf("%v: %d bytes, limit %d", common.ErrorTooLarge, size, p.maxBytes)
		if err := p.Notifier.SendFailure(ctx, u.Email, parsed.subject, msg, 1); err != nil {
			return fmt.Errorf("send size notice: %w", err)
		}
		return items.SetResult(ctx, p.mailbox, item.UID, "", "", "size ceiling exceeded")
	}

	var wallet *network.Wallet
	if p.Credits != nil {
		wallet, err = p.Credits.EnsureWallet(ctx, u)
		if err != nil {
			return err
		}
		if err := p.Credits.Ensure(ctx, u, wallet, size, adm.Summary.Remaining()); err != nil {
			return err
		}
	}

	path, err := filex.WriteTemp(p.tempDir, "item-*.eml", raw)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn(ctx, "removing temp file", "path", path, "error", err)
		}
	}()

	vault, _, err := p.Vaults.EnsurePrivate(ctx, u)
	if err != nil {
		return err
	}

	if !vault.WelcomeSent {
		if err := p.welcome(ctx, u, vault); err != nil {
			return err
		}
	}

	password, err := p.Vaults.Password(vault)
	if err != nil {
		return fmt.Errorf("open vault password: %w", err)
	}
	target := Target{Vault: vault, Password: password, Wallet: wallet}

	monthID, err := p.Folders.ResolveMonth(ctx, target, parsed.receivedAt)
	if err != nil {
		return err
	}

	leafID, err := p.Folders.CreateLeaf(ctx, target, monthID, LeafSpec{UID: item.UID, Subject: parsed.subject, ReceivedAt: parsed.receivedAt})
	if err != nil {
		return err
	}

	res, err := p.upload(ctx, target, leafID, path, Slug(parsed.receivedAt, parsed.subject)+".eml", size)
	if err != nil {
		return err
	}

	rec := &models.UploadRecord{
		UserID:        u.ID,
		VaultID:       vault.ID,
		EntityID:      res.EntityID,
		TransactionID: res.TransactionID,
		Size:          size,
		ContentType:   archiveContentType,
	}
	if err := p.repomanager.Uploads(p.db).Create(ctx, rec); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	summary, err := p.Usage.Record(ctx, u, size)
	if err != nil {
		return err
	}

	if err := items.SetResult(ctx, p.mailbox, item.UID, leafID, res.EntityID, ""); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	item.ContainerID, item.ArchiveRef = leafID, res.EntityID
	if err := p.confirm(ctx, item, u.Email, parsed.subject, summary); err != nil {
		return err
	}

	log.Info(ctx, "item archived", "entity_id", res.EntityID, "size", size, "billed", summary.Billed)
	return nil
}

func (p *Processor) confirm(ctx context.Context, item *models.ProcessedItem, to, subject string, summary models.UsageSummary) error {
	if err := p.Notifier.SendConfirmation(ctx, to, item.ArchiveRef, subject, summary); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	if err := p.repomanager.Items(p.db).SetResult(ctx, p.mailbox, item.UID, item.ContainerID, item.ArchiveRef, noteConfirmed); err != nil {
		return fmt.Errorf("save confirmation: %w", err)
	}
	return nil
}

// reconfirm finishes an item whose upload was recorded but whose
// confirmation never went out. Nothing is uploaded or billed again.
func (p *Processor) reconfirm(ctx context.Context, item *models.ProcessedItem) error {
	u, err := p.Senders.Resolve(ctx, item.Sender)
	if err != nil {
		return err
	}
	summary, err := p.Usage.Summary(ctx, u)
	if err != nil {
		return err
	}
	return p.confirm(ctx, item, u.Email, item.Subject, summary)
}

func (p *Processor) welcome(ctx context.Context, u *models.User, v *models.Vault) error {
	shareKey, err := p.Vaults.ShareKey(v)
	if err != nil {
		return fmt.Errorf("open share key: %w", err)
	}

	summary, err := p.Usage.Summary(ctx, u)
	if err != nil {
		return err
	}

	if err := p.Notifier.SendWelcome(ctx, u.Email, v.NetworkVaultID, shareKey, summary); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	return p.Vaults.MarkWelcomeSent(ctx, v)
}

func (p *Processor) upload(ctx context.Context, t Target, containerID, path, filename string, size int64) (*network.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open temp: %w", err)
	}
	defer f.Close()

	res, err := p.Client.UploadFile(ctx, network.UploadRequest{
		VaultID:     t.Vault.NetworkVaultID,
		ContainerID: containerID,
		Filename:    filename,
		ContentType: archiveContentType,
		Body:        f,
		Size:        size,
		Password:    t.Password,
		Wallet:      t.Wallet,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return res, nil
}

// Exhausted tells the sender that the item could not be archived. Senders
// that were never trusted get nothing.
func (p *Processor) Exhausted(ctx context.Context, job *models.Job, cause error) {
	if errors.Is(cause, common.ErrorNotAllowed) || errors.Is(cause, common.ErrorInvalidAddress) {
		return
	}

	log := p.logger

	item, err := p.repomanager.Items(p.db).Get(ctx, p.mailbox, job.UID)
	if err != nil {
		log.Error(ctx, "loading item for failure notice", "error", err)
		return
	}
	if item.Sender == "" {
		log.Warn(ctx, "no sender on record, failure notice skipped")
		return
	}

	addr, err := NormalizeAddress(item.Sender)
	if err != nil || !p.Senders.Allowed(addr) {
		return
	}

	if err := p.Notifier.SendFailure(ctx, addr, item.Subject, cause.Error(), job.Attempts); err != nil {
		log.Error(ctx, "sending failure notice", "error", err)
	}
}
