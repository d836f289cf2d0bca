package models

import "time"

type VaultType string

const (
	VaultPrivate VaultType = "private"
	VaultPublic  VaultType = "public"
)

// VaultAccess describes how a vault is protected. It is either PublicAccess
// or PrivateAccess.
type VaultAccess interface {
	vaultAccess()
}

type PublicAccess struct{}

// PrivateAccess carries the vault password and the derived shareable key,
// both sealed by the credential vault.
type PrivateAccess struct {
	EncryptedPassword string
	EncryptedShareKey string
}

func (PublicAccess) vaultAccess()  {}
func (PrivateAccess) vaultAccess() {}

// Vault is a user's drive on the storage network.
type Vault struct {
	ID              string
	UserID          string
	Type            VaultType
	NetworkVaultID  string
	RootContainerID string
	Access          VaultAccess
	WelcomeSent     bool
	CreatedAt       time.Time
}

// Private returns the private access data and true when the vault is password protected.
func (v *Vault) Private() (PrivateAccess, bool) {
	p, ok := v.Access.(PrivateAccess)
	return p, ok
}
