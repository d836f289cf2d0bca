package queue

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
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
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type memJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[int64]*models.Job{}}
}

func (m *memJobs) Enqueue(ctx context.Context, uid uint32, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.UID == uid && (j.Status == models.JobPending || j.Status == models.JobRunning) {
			return false, nil
		}
	}
	m.nextID++
	m.jobs[m.nextID] = &models.Job{ID: m.nextID, UID: uid, Status: models.JobPending, MaxAttempts: maxAttempts}
	return true, nil
}

func (m *memJobs) NextPending(ctx context.Context, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		j := m.jobs[id]
		if j.Status == models.JobPending && !j.RunAfter.After(now) {
			c := *j
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memJobs) MarkRunning(ctx context.Context, id int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = models.JobRunning
	j.Attempts++
	c := *j
	return &c, nil
}

func (m *memJobs) Complete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = models.JobSucceeded
	return nil
}

func (m *memJobs) Retry(ctx context.Context, id int64, runAfter time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = models.JobPending
	j.RunAfter = runAfter
	j.LastError = lastErr
	return nil
}

func (m *memJobs) Fail(ctx context.Context, id int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = models.JobFailed
	j.LastError = lastErr
	return nil
}

func (m *memJobs) RecoverStale(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status == models.JobRunning && j.UpdatedAt.Before(before) {
			j.Status = models.JobPending
			n++
		}
	}
	return n, nil
}

func (m *memJobs) ListFailed(ctx context.Context, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.JobFailed {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memJobs) Requeue(ctx context.Context, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.UID == uid && j.Status == models.JobFailed {
			j.Status = models.JobPending
			j.Attempts = 0
			j.RunAfter = time.Time{}
			return nil
		}
	}
	return common.ErrorNotFound
}

func (m *memJobs) get(id int64) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type fakeRepoManager struct{ jobs *memJobs }

func (f fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f fakeRepoManager) Users(dbx.DBTX) users.Repository            { return nil }
func (f fakeRepoManager) Vaults(dbx.DBTX) vaults.Repository          { return nil }
func (f fakeRepoManager) Folders(dbx.DBTX) folders.Repository        { return nil }
func (f fakeRepoManager) Items(dbx.DBTX) items.Repository            { return nil }
func (f fakeRepoManager) Uploads(dbx.DBTX) uploads.Repository        { return nil }
func (f fakeRepoManager) Usage(dbx.DBTX) usage.Repository            { return nil }
func (f fakeRepoManager) Grants(dbx.DBTX) grants.Repository          { return nil }
func (f fakeRepoManager) Jobs(dbx.DBTX) jobs.Repository              { return f.jobs }

type fakeHandler struct {
	mu        sync.Mutex
	handled   []int64
	exhausted []error
	err       func(job *models.Job) error
	block     chan struct{}
}

func (h *fakeHandler) Handle(ctx context.Context, job *models.Job) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, job.ID)
	if h.err != nil {
		return h.err(job)
	}
	return nil
}

func (h *fakeHandler) Exhausted(ctx context.Context, job *models.Job, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, err)
}

func (h *fakeHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled), len(h.exhausted)
}
