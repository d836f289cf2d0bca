package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/emersion/go-message/mail"
)

// SenderService maps mail addresses to users and enforces the allow-list.
type SenderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	addresses   map[string]struct{}
	domains     map[string]struct{}
	plan        string
}

func NewSenderService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *SenderService {
	s := &SenderService{
		db:          db,
		repomanager: m,
		addresses:   make(map[string]struct{}),
		domains:     make(map[string]struct{}),
		plan:        cfg.DefaultPlan,
	}

	for _, entry := range cfg.AllowList {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case strings.HasPrefix(entry, "@"):
			s.domains[entry[1:]] = struct{}{}
		default:
			s.addresses[entry] = struct{}{}
		}
	}

	return s
}

// NormalizeAddress parses raw (a bare address or "Name <addr>") and returns
// the lowercased address.
func NormalizeAddress(raw string) (string, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", common.ErrorInvalidAddress, raw)
	}
	return strings.ToLower(a.Address), nil
}

// Allowed reports whether a normalized address is on the allow-list.
// An empty list admits nobody.
func (s *SenderService) Allowed(addr string) bool {
	if _, ok := s.addresses[addr]; ok {
		return true
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return false
	}
	_, ok := s.domains[addr[at+1:]]
	return ok
}

// Resolve returns the user for raw, creating the record on first sight.
// Unparseable and unlisted senders fail permanently.
func (s *SenderService) Resolve(ctx context.Context, raw string) (*models.User, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return nil, common.Permanent(err)
	}

	if !s.Allowed(addr) {
		return nil, common.Permanent(fmt.Errorf("sender %s: %w", addr, common.ErrorNotAllowed))
	}

	u, err := s.repomanager.Users(s.db).GetOrCreate(ctx, addr, s.plan)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}
	return u, nil
}

// Lookup finds an existing user without consulting the allow-list.
func (s *SenderService) Lookup(ctx context.Context, raw string) (*models.User, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Users(s.db).GetByEmail(ctx, addr)
}
