// Package models holds the persisted entities of the mail archiving pipeline.
package models

import "time"

// User is a sender known to the system, identified by a normalized address.
type User struct {
	ID        string
	Email     string
	Plan      string
	CreatedAt time.Time

	// Dedicated wallet, set only in multi-wallet mode.
	WalletAddress      string
	EncryptedWalletKey string
}

// HasWallet reports whether a dedicated wallet was provisioned for u.
func (u *User) HasWallet() bool {
	return u.WalletAddress != ""
}
