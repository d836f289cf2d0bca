package models

import "time"

type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantRevoked GrantStatus = "revoked"
)

// CreditGrant is credit lent from the master wallet to a user's wallet.
type CreditGrant struct {
	ID            string
	UserID        string
	GrantID       string
	WalletAddress string
	Amount        int64
	ExpiresAt     time.Time
	Status        GrantStatus
	CreatedAt     time.Time
}
