package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
)

const mib = 1 << 20

// CreditService keeps per-user wallets funded by lending credit from the
// master wallet. Used only in multi-wallet mode.
type CreditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	wallets     network.Wallets
	sealer      *cryptox.Sealer
	master      network.Wallet
	perItem     int64
	perMiB      int64
	expiry      time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewCreditService(db *sql.DB, m repomanager.RepositoryManager, wallets network.Wallets, sealer *cryptox.Sealer, cfg *config.Config, logger logging.Logger) *CreditService {
	return &CreditService{
		db:          db,
		repomanager: m,
		wallets:     wallets,
		sealer:      sealer,
		master:      network.Wallet{Address: cfg.MasterWalletAddress, Key: cfg.MasterWalletKey},
		perItem:     cfg.CreditPerItem,
		perMiB:      cfg.CreditPerMiB,
		expiry:      cfg.GrantExpiry,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureWallet returns the user's dedicated wallet, provisioning it on first use.
func (s *CreditService) EnsureWallet(ctx context.Context, u *models.User) (*network.Wallet, error) {
	if u.HasWallet() {
		key, err := s.sealer.Open(u.EncryptedWalletKey)
		if err != nil {
			return nil, fmt.Errorf("open wallet key: %w", err)
		}
		return &network.Wallet{Address: u.WalletAddress, Key: key}, nil
	}

	w, err := s.wallets.NewWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("new wallet: %w", err)
	}

	enc, err := s.sealer.Seal(w.Key)
	if err != nil {
		return nil, fmt.Errorf("seal wallet key: %w", err)
	}

	if err := s.repomanager.Users(s.db).SetWallet(ctx, u.ID, w.Address, enc); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}

	u.WalletAddress = w.Address
	u.EncryptedWalletKey = enc
	s.logger.Info(ctx, "wallet provisioned", "user_id", u.ID, "address", w.Address)

	return w, nil
}

// required is the credit an upload of size bytes needs, at least one MiB worth.
func (s *CreditService) required(size int64) int64 {
	units := (size + mib - 1) / mib
	if units < 1 {
		units = 1
	}
	return units * s.perMiB
}

// Ensure tops up the user's wallet when its balance cannot cover an upload
// of estimatedBytes. The loan covers the user's remaining free allowance and
// supersedes earlier grants.
func (s *CreditService) Ensure(ctx context.Context, u *models.User, w *network.Wallet, estimatedBytes int64, remaining int) error {
	need := s.required(estimatedBytes)

	balance, err := s.wallets.GetBalance(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if balance >= need {
		return nil
	}

	amount := s.perItem * int64(max(remaining, 1))
	amount = max(amount, need)
	expiresAt := s.now().Add(s.expiry)

	grantID, err := s.wallets.ShareCredit(ctx, s.master, w.Address, amount, expiresAt)
	if err != nil {
		return fmt.Errorf("share credit: %w", err)
	}

	g := &models.CreditGrant{
		UserID:        u.ID,
		GrantID:       grantID,
		WalletAddress: w.Address,
		Amount:        amount,
		ExpiresAt:     expiresAt,
		Status:        models.GrantActive,
	}

	repo := s.repomanager.Grants(s.db)
	if err := repo.Create(ctx, g); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}

	superseded, err := repo.RevokeActive(ctx, u.ID, g.ID)
	if err != nil {
		return fmt.Errorf("supersede grants: %w", err)
	}

	s.logger.Info(ctx, "credit lent", "user_id", u.ID, "amount", amount, "balance", balance, "superseded", superseded)
	return nil
}

// Revoke cancels the user's grants on the network and marks them revoked.
func (s *CreditService) Revoke(ctx context.Context, u *models.User) (int64, error) {
	if u.HasWallet() {
		if err := s.wallets.RevokeCredit(ctx, s.master, u.WalletAddress); err != nil {
			return 0, fmt.Errorf("revoke credit: %w", err)
		}
	}

	n, err := s.repomanager.Grants(s.db).RevokeActive(ctx, u.ID, "")
	if err != nil {
		return 0, fmt.Errorf("revoke grants: %w", err)
	}
	return n, nil
}
