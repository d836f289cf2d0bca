package models

import (
	"fmt"
	"strconv"
	"time"
)

type FolderKind string

const (
	FolderYear  FolderKind = "year"
	FolderMonth FolderKind = "month"
	FolderItem  FolderKind = "item"
)

// FolderKey identifies a cached container. Month is 0 for year folders,
// ItemKey is empty for everything but item folders.
type FolderKey struct {
	UserID  string
	VaultID string
	Kind    FolderKind
	Year    int
	Month   int
	ItemKey string
}

// LockKey is the key used for mutual exclusion around creating this folder.
func (k FolderKey) LockKey() string {
	s := k.UserID + "|" + k.VaultID + "|" + string(k.Kind) + "|" + strconv.Itoa(k.Year)
	if k.Month != 0 {
		s += "|" + strconv.Itoa(k.Month)
	}
	if k.ItemKey != "" {
		s += "|" + k.ItemKey
	}
	return s
}

// Name is the container name used on the storage network.
func (k FolderKey) Name() string {
	switch k.Kind {
	case FolderYear:
		return strconv.Itoa(k.Year)
	case FolderMonth:
		return fmt.Sprintf("%02d", k.Month)
	}
	return k.ItemKey
}

// FolderCacheEntry is the local, authoritative record of a created container.
type FolderCacheEntry struct {
	ID                int64
	Key               FolderKey
	ParentContainerID string
	ContainerID       string
	CreatedAt         time.Time
}
