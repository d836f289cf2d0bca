// Package network describes the permanent storage network the archive is
// written to, and provides an S3-backed gateway implementing it.
package network

import (
	"context"
	"io"
	"time"
)

// VaultInfo identifies a freshly created vault.
type VaultInfo struct {
	VaultID         string
	RootContainerID string
}

// Wallet is a funding identity on the network. Key is the signing secret.
type Wallet struct {
	Address string
	Key     string
}

type ContainerRequest struct {
	VaultID  string
	ParentID string
	Name     string
	// Password is empty for public vaults.
	Password string
	// Wallet overrides the default funding wallet when non-nil.
	Wallet *Wallet
}

type UploadRequest struct {
	VaultID     string
	ContainerID string
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
	Password    string
	Wallet      *Wallet
}

type UploadResult struct {
	EntityID      string
	TransactionID string
	AccessKey     string
}

// Client writes vaults, containers and files. Writes are durable once the
// call returns but may not be visible to reads until indexed.
type Client interface {
	CreateVault(ctx context.Context, password string) (*VaultInfo, error)
	CreateContainer(ctx context.Context, req ContainerRequest) (string, error)
	UploadFile(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// IndexChecker answers whether a written entity is visible to reads yet.
type IndexChecker interface {
	IsIndexed(ctx context.Context, vaultID, entityID string) (bool, error)
}

// Wallets manages transferable credit between wallets. S3Gateway keeps the
// ledger in its bucket.
type Wallets interface {
	NewWallet(ctx context.Context) (*Wallet, error)
	GetBalance(ctx context.Context, address string) (int64, error)
	ShareCredit(ctx context.Context, from Wallet, toAddress string, amount int64, expiresAt time.Time) (string, error)
	RevokeCredit(ctx context.Context, from Wallet, toAddress string) error
}
