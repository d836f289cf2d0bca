package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/grants"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/items"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/uploads"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/usage"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/users"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/vaults"
)

// memStore backs every fake repository with maps guarded by one mutex.
type memStore struct {
	mu sync.Mutex
	n  int

	users   map[string]*models.User
	vaults  map[string]*models.Vault
	folders map[models.FolderKey]*models.FolderCacheEntry
	items   map[uint32]*models.ProcessedItem
	uploads []*models.UploadRecord
	periods map[int64]*models.UsagePeriod
	grants  []*models.CreditGrant

	usersErr   error
	vaultGetFn func(attempt int) error
	vaultGets  int
	folderGet  func(key models.FolderKey, attempt int) error
	folderGets map[models.FolderKey]int
	statusErr  func(status models.ItemStatus) error
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[string]*models.User{},
		vaults:     map[string]*models.Vault{},
		folders:    map[models.FolderKey]*models.FolderCacheEntry{},
		items:      map[uint32]*models.ProcessedItem{},
		periods:    map[int64]*models.UsagePeriod{},
		folderGets: map[models.FolderKey]int{},
	}
}

func (m *memStore) nextID() int {
	m.n++
	return m.n
}

type fakeRepoManager struct{ s *memStore }

func (f fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f fakeRepoManager) Users(dbx.DBTX) users.Repository            { return fakeUsers(f) }
func (f fakeRepoManager) Vaults(dbx.DBTX) vaults.Repository          { return fakeVaults(f) }
func (f fakeRepoManager) Folders(dbx.DBTX) folders.Repository        { return fakeFolders(f) }
func (f fakeRepoManager) Items(dbx.DBTX) items.Repository            { return fakeItems(f) }
func (f fakeRepoManager) Uploads(dbx.DBTX) uploads.Repository        { return fakeUploads(f) }
func (f fakeRepoManager) Usage(dbx.DBTX) usage.Repository            { return fakeUsage(f) }
func (f fakeRepoManager) Grants(dbx.DBTX) grants.Repository          { return fakeGrants(f) }
func (f fakeRepoManager) Jobs(dbx.DBTX) jobs.Repository              { return nil }

type fakeUsers struct{ s *memStore }

func (f fakeUsers) GetOrCreate(ctx context.Context, email, plan string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.usersErr != nil {
		return nil, f.s.usersErr
	}
	if u, ok := f.s.users[email]; ok {
		c := *u
		return &c, nil
	}
	u := &models.User{ID: fmt.Sprintf("user-%d", f.s.nextID()), Email: email, Plan: plan, CreatedAt: time.Now()}
	f.s.users[email] = u
	c := *u
	return &c, nil
}

func (f fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) SetWallet(ctx context.Context, userID, address, encryptedKey string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.ID == userID {
			u.WalletAddress = address
			u.EncryptedWalletKey = encryptedKey
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeVaults struct{ s *memStore }

func vaultKey(userID string, t models.VaultType) string { return userID + "|" + string(t) }

func (f fakeVaults) Get(ctx context.Context, userID string, t models.VaultType) (*models.Vault, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.vaultGets++
	if f.s.vaultGetFn != nil {
		if err := f.s.vaultGetFn(f.s.vaultGets); err != nil {
			return nil, err
		}
	}
	v, ok := f.s.vaults[vaultKey(userID, t)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *v
	return &c, nil
}

func (f fakeVaults) Create(ctx context.Context, v *models.Vault) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.createLocked(v)
}

// createLocked inserts v; the caller holds the store mutex.
func (f fakeVaults) createLocked(v *models.Vault) error {
	k := vaultKey(v.UserID, v.Type)
	if _, ok := f.s.vaults[k]; ok {
		return common.ErrorAlreadyExists
	}
	v.ID = fmt.Sprintf("vault-%d", f.s.nextID())
	v.CreatedAt = time.Now()
	c := *v
	f.s.vaults[k] = &c
	return nil
}

func (f fakeVaults) MarkWelcomeSent(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, v := range f.s.vaults {
		if v.ID == id {
			v.WelcomeSent = true
			return nil
		}
	}
	return common.ErrorNotFound
}

func (m *memStore) vaultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vaults)
}

type fakeFolders struct{ s *memStore }

func (f fakeFolders) Get(ctx context.Context, key models.FolderKey) (*models.FolderCacheEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.folderGets[key]++
	if f.s.folderGet != nil {
		if err := f.s.folderGet(key, f.s.folderGets[key]); err != nil {
			return nil, err
		}
	}
	e, ok := f.s.folders[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *e
	return &c, nil
}

func (f fakeFolders) Create(ctx context.Context, e *models.FolderCacheEntry) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.folders[e.Key]; ok {
		return common.ErrorAlreadyExists
	}
	e.ID = int64(f.s.nextID())
	e.CreatedAt = time.Now()
	c := *e
	f.s.folders[e.Key] = &c
	return nil
}

type fakeItems struct{ s *memStore }

func (f fakeItems) Get(ctx context.Context, mailbox string, uid uint32) (*models.ProcessedItem, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	it, ok := f.s.items[uid]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *it
	return &c, nil
}

func (f fakeItems) Exists(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	_, ok := f.s.items[uid]
	return ok, nil
}

func (f fakeItems) Insert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.items[item.UID]; ok {
		return false, nil
	}
	c := *item
	f.s.items[item.UID] = &c
	return true, nil
}

func (f fakeItems) SetEnvelope(ctx context.Context, mailbox string, uid uint32, sender, subject, messageID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	it, ok := f.s.items[uid]
	if !ok {
		return common.ErrorNotFound
	}
	if sender != "" {
		it.Sender = sender
	}
	if subject != "" {
		it.Subject = subject
	}
	if messageID != "" {
		it.MessageID = messageID
	}
	return nil
}

func (f fakeItems) SetStatus(ctx context.Context, mailbox string, uid uint32, status models.ItemStatus, lastError string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.statusErr != nil {
		if err := f.s.statusErr(status); err != nil {
			return err
		}
	}
	it, ok := f.s.items[uid]
	if !ok {
		return common.ErrorNotFound
	}
	it.Status = status
	it.LastError = lastError
	return nil
}

func (f fakeItems) SetResult(ctx context.Context, mailbox string, uid uint32, containerID, archiveRef, note string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	it, ok := f.s.items[uid]
	if !ok {
		return common.ErrorNotFound
	}
	it.ContainerID = containerID
	it.ArchiveRef = archiveRef
	it.Note = note
	return nil
}

func (m *memStore) item(uid uint32) models.ProcessedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[uid]; ok {
		return *it
	}
	return models.ProcessedItem{}
}

type fakeUploads struct{ s *memStore }

func (f fakeUploads) Create(ctx context.Context, rec *models.UploadRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	rec.ID = fmt.Sprintf("upload-%d", f.s.nextID())
	rec.CompletedAt = time.Now()
	c := *rec
	f.s.uploads = append(f.s.uploads, &c)
	return nil
}

func (f fakeUploads) ListByUser(ctx context.Context, userID string, limit int) ([]*models.UploadRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.UploadRecord
	for _, r := range f.s.uploads {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeUsage struct{ s *memStore }

func (f fakeUsage) GetOrCreate(ctx context.Context, userID string, start, end time.Time) (*models.UsagePeriod, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.periods {
		if p.UserID == userID && p.PeriodStart.Equal(start) {
			c := *p
			return &c, nil
		}
	}
	p := &models.UsagePeriod{ID: int64(f.s.nextID()), UserID: userID, PeriodStart: start, PeriodEnd: end}
	f.s.periods[p.ID] = p
	c := *p
	return &c, nil
}

func (f fakeUsage) Find(ctx context.Context, userID string, at time.Time) (*models.UsagePeriod, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.periods {
		if p.UserID == userID && !at.Before(p.PeriodStart) && at.Before(p.PeriodEnd) {
			c := *p
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f fakeUsage) Increment(ctx context.Context, id int64, items int, bytes, costCents int64, billed bool) (*models.UsagePeriod, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.periods[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	p.Items += items
	p.Bytes += bytes
	p.CostCents += costCents
	p.Billed = p.Billed || billed
	c := *p
	return &c, nil
}

func (m *memStore) periodFor(userID string) models.UsagePeriod {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.periods {
		if p.UserID == userID {
			return *p
		}
	}
	return models.UsagePeriod{}
}

type fakeGrants struct{ s *memStore }

func (f fakeGrants) Create(ctx context.Context, g *models.CreditGrant) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	g.ID = fmt.Sprintf("grant-%d", f.s.nextID())
	if g.Status == "" {
		g.Status = models.GrantActive
	}
	c := *g
	f.s.grants = append(f.s.grants, &c)
	return nil
}

func (f fakeGrants) ListActive(ctx context.Context, userID string) ([]*models.CreditGrant, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.CreditGrant
	for _, g := range f.s.grants {
		if g.UserID == userID && g.Status == models.GrantActive {
			c := *g
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f fakeGrants) RevokeActive(ctx context.Context, userID, keepID string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, g := range f.s.grants {
		if g.UserID == userID && g.Status == models.GrantActive && g.ID != keepID {
			g.Status = models.GrantRevoked
			n++
		}
	}
	return n, nil
}
