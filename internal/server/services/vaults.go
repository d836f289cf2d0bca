package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
)

const vaultPasswordSize = 24

// VaultService provisions one private vault per user.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      network.Client
	sealer      *cryptox.Sealer
	settler     Settler
	logger      logging.Logger
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, client network.Client, sealer *cryptox.Sealer, settler Settler, logger logging.Logger) *VaultService {
	return &VaultService{db: db, repomanager: m, client: client, sealer: sealer, settler: settler, logger: logger}
}

// EnsurePrivate returns the user's private vault, creating it on the network
// when no row exists yet. created is true only for the caller that persisted
// the new vault.
func (s *VaultService) EnsurePrivate(ctx context.Context, u *models.User) (v *models.Vault, created bool, err error) {
	repo := s.repomanager.Vaults(s.db)

	v, err = repo.Get(ctx, u.ID, models.VaultPrivate)
	if err == nil {
		return v, false, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, false, fmt.Errorf("get vault: %w", err)
	}

	password, err := common.MakeRandHexString(vaultPasswordSize)
	if err != nil {
		return nil, false, err
	}

	info, err := s.client.CreateVault(ctx, password)
	if err != nil {
		return nil, false, fmt.Errorf("create vault: %w", err)
	}

	shareKey, err := cryptox.DeriveShareKey(password, info.VaultID)
	if err != nil {
		return nil, false, err
	}

	encPassword, err := s.sealer.Seal(password)
	if err != nil {
		return nil, false, fmt.Errorf("seal vault password: %w", err)
	}
	encShareKey, err := s.sealer.Seal(shareKey)
	if err != nil {
		return nil, false, fmt.Errorf("seal share key: %w", err)
	}

	v = &models.Vault{
		UserID:          u.ID,
		Type:            models.VaultPrivate,
		NetworkVaultID:  info.VaultID,
		RootContainerID: info.RootContainerID,
		Access:          models.PrivateAccess{EncryptedPassword: encPassword, EncryptedShareKey: encShareKey},
	}

	if err := repo.Create(ctx, v); err != nil {
		if !errors.Is(err, common.ErrorAlreadyExists) {
			return nil, false, fmt.Errorf("save vault: %w", err)
		}

		s.logger.Warn(ctx, "vault created concurrently, discarding network vault", "user_id", u.ID, "vault_id", info.VaultID)

		existing, err := repo.Get(ctx, u.ID, models.VaultPrivate)
		if err != nil {
			return nil, false, fmt.Errorf("get vault: %w", err)
		}
		return existing, false, nil
	}

	s.logger.Info(ctx, "vault created", "user_id", u.ID, "vault_id", info.VaultID)

	if err := s.settler.Settle(ctx, EntityRef{VaultID: info.VaultID, EntityID: info.RootContainerID}); err != nil {
		return v, true, err
	}

	return v, true, nil
}

// Password opens the sealed vault password. Public vaults have none.
func (s *VaultService) Password(v *models.Vault) (string, error) {
	p, ok := v.Private()
	if !ok {
		return "", nil
	}
	return s.sealer.Open(p.EncryptedPassword)
}

// ShareKey opens the key the owner uses to read the vault.
func (s *VaultService) ShareKey(v *models.Vault) (string, error) {
	p, ok := v.Private()
	if !ok {
		return "", nil
	}
	return s.sealer.Open(p.EncryptedShareKey)
}

func (s *VaultService) MarkWelcomeSent(ctx context.Context, v *models.Vault) error {
	if err := s.repomanager.Vaults(s.db).MarkWelcomeSent(ctx, v.ID); err != nil {
		return fmt.Errorf("mark welcome sent: %w", err)
	}
	v.WelcomeSent = true
	return nil
}
