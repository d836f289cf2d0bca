package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
)

const maxSlugSubject = 48

// Target is the vault a pipeline run writes into, with the secrets needed to do so.
type Target struct {
	Vault    *models.Vault
	Password string
	// Wallet funds the writes in multi-wallet mode.
	Wallet *network.Wallet
}

// LeafSpec describes the per-item container placed under a month folder.
type LeafSpec struct {
	UID        uint32
	Subject    string
	ReceivedAt time.Time
}

// FolderService resolves year/month containers through the local cache,
// creating them on the network on a miss. Creation is optimistic: on any
// failure or conflict the cache is re-read and an existing entry wins.
type FolderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      network.Client
	locker      Locker
	settler     Settler
	dedupLeaf   bool
	logger      logging.Logger
}

func NewFolderService(db *sql.DB, m repomanager.RepositoryManager, client network.Client, locker Locker, settler Settler, dedupLeaf bool, logger logging.Logger) *FolderService {
	return &FolderService{
		db:          db,
		repomanager: m,
		client:      client,
		locker:      locker,
		settler:     settler,
		dedupLeaf:   dedupLeaf,
		logger:      logger,
	}
}

// ResolveMonth returns the container for the month of at, creating the year
// folder first if needed.
func (s *FolderService) ResolveMonth(ctx context.Context, t Target, at time.Time) (string, error) {
	at = at.UTC()
	yearKey := models.FolderKey{UserID: t.Vault.UserID, VaultID: t.Vault.ID, Kind: models.FolderYear, Year: at.Year()}

	yearID, err := s.resolve(ctx, t, yearKey, yearKey.Name(), t.Vault.RootContainerID)
	if err != nil {
		return "", err
	}

	monthKey := yearKey
	monthKey.Kind = models.FolderMonth
	monthKey.Month = int(at.Month())

	return s.resolve(ctx, t, monthKey, monthKey.Name(), yearID)
}

// CreateLeaf creates the container that holds one archived item. With leaf
// dedup enabled it is cached by UID so a retried job reuses it.
func (s *FolderService) CreateLeaf(ctx context.Context, t Target, monthID string, leaf LeafSpec) (string, error) {
	name := Slug(leaf.ReceivedAt, leaf.Subject)

	if s.dedupLeaf {
		at := leaf.ReceivedAt.UTC()
		key := models.FolderKey{
			UserID:  t.Vault.UserID,
			VaultID: t.Vault.ID,
			Kind:    models.FolderItem,
			Year:    at.Year(),
			Month:   int(at.Month()),
			ItemKey: strconv.FormatUint(uint64(leaf.UID), 10),
		}
		return s.resolve(ctx, t, key, name, monthID)
	}

	id, err := s.create(ctx, t, name, monthID)
	if err != nil {
		return "", err
	}
	if err := s.settler.Settle(ctx, EntityRef{VaultID: t.Vault.NetworkVaultID, EntityID: id}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FolderService) resolve(ctx context.Context, t Target, key models.FolderKey, name, parentID string) (string, error) {
	unlock, err := s.locker.Lock(ctx, key.LockKey())
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", key.LockKey(), err)
	}
	defer unlock()

	repo := s.repomanager.Folders(s.db)

	e, err := repo.Get(ctx, key)
	if err == nil {
		return e.ContainerID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", fmt.Errorf("folder cache: %w", err)
	}

	id, createErr := s.create(ctx, t, name, parentID)
	if createErr != nil {
		if e, err := repo.Get(ctx, key); err == nil {
			return e.ContainerID, nil
		}
		return "", createErr
	}

	entry := &models.FolderCacheEntry{Key: key, ParentContainerID: parentID, ContainerID: id}
	if err := repo.Create(ctx, entry); err != nil {
		if !errors.Is(err, common.ErrorAlreadyExists) {
			return "", fmt.Errorf("folder cache: %w", err)
		}

		winner, err := repo.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("folder cache: %w", err)
		}
		s.logger.Warn(ctx, "folder created concurrently, using cached container",
			"key", key.LockKey(), "orphan", id, "container_id", winner.ContainerID)
		return winner.ContainerID, nil
	}

	if err := s.settler.Settle(ctx, EntityRef{VaultID: t.Vault.NetworkVaultID, EntityID: id}); err != nil {
		return "", err
	}

	return id, nil
}

func (s *FolderService) create(ctx context.Context, t Target, name, parentID string) (string, error) {
	id, err := s.client.CreateContainer(ctx, network.ContainerRequest{
		VaultID:  t.Vault.NetworkVaultID,
		ParentID: parentID,
		Name:     name,
		Password: t.Password,
		Wallet:   t.Wallet,
	})
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", name, err)
	}
	return id, nil
}

// Slug names a leaf container: a UTC timestamp followed by the subject
// reduced to lowercase letters, digits and single dashes.
func Slug(at time.Time, subject string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(subject) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			dash = true
			continue
		}
		if dash && b.Len() > 0 {
			b.WriteByte('-')
		}
		dash = false
		b.WriteRune(r)
	}

	slug := b.String()
	if len(slug) > maxSlugSubject {
		slug = slug[:maxSlugSubject]
		for !utf8.ValidString(slug) {
			slug = slug[:len(slug)-1]
		}
		slug = strings.TrimRight(slug, "-")
	}

	ts := at.UTC().Format("20060102-150405")
	if slug == "" {
		return ts + "-item"
	}
	return ts + "-" + slug
}
