package models

import "time"

// UsagePeriod counts a user's processed items for one calendar month.
type UsagePeriod struct {
	ID          int64
	UserID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Items       int
	Bytes       int64
	CostCents   int64
	Billed      bool
}

// UsageSummary is the usage context attached to outgoing notifications.
type UsageSummary struct {
	Items       int
	FreeItems   int
	Bytes       int64
	CostCents   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Billed      bool
}

// Remaining is the number of free items left in the period, never negative.
func (s UsageSummary) Remaining() int {
	if s.Items >= s.FreeItems {
		return 0
	}
	return s.FreeItems - s.Items
}
