package mailbox

import (
	"context"
	"database/sql"
	"errors"
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

type fakeSession struct {
	mu         sync.Mutex
	unseen     []uint32
	envelopes  map[uint32]*Envelope
	sources    map[uint32][]byte
	seen       map[uint32]bool
	keepUnseen bool
	searchErr  error
	fetchErr   error
	done       chan struct{}
	closed     bool
	searches   int
}

func newFakeSession(uids ...uint32) *fakeSession {
	s := &fakeSession{
		envelopes: map[uint32]*Envelope{},
		sources:   map[uint32][]byte{},
		seen:      map[uint32]bool{},
		done:      make(chan struct{}),
	}
	for _, uid := range uids {
		s.unseen = append(s.unseen, uid)
		s.envelopes[uid] = &Envelope{UID: uid, Sender: "a@x.com", Subject: "subject", MessageID: "<m@x>"}
	}
	return s
}

func (s *fakeSession) SearchUnseen(ctx context.Context, since time.Time) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []uint32
	for _, uid := range s.unseen {
		if s.keepUnseen || !s.seen[uid] {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (s *fakeSession) FetchEnvelope(ctx context.Context, uid uint32) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[uid]
	if !ok {
		return nil, errors.New("no envelope")
	}
	return env, nil
}

func (s *fakeSession) FetchSource(ctx context.Context, uid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	raw, ok := s.sources[uid]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return raw, nil
}

func (s *fakeSession) MarkSeen(ctx context.Context, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[uid] = true
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) drop() { close(s.done) }

func (s *fakeSession) isSeen(uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[uid]
}

func (s *fakeSession) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer returns queued sessions, or errors while failures remain.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	if len(d.sessions) == 0 {
		return nil, errors.New("no more sessions")
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// openIngestDB backs the item and job fakes, so rows written on a rolled-back
// transaction disappear as they would in Postgres.
func openIngestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE processed_items (
			uid INTEGER PRIMARY KEY, mailbox TEXT NOT NULL, message_id TEXT NOT NULL,
			sender TEXT NOT NULL, subject TEXT NOT NULL, status TEXT NOT NULL)`,
		`CREATE TABLE jobs (id INTEGER PRIMARY KEY AUTOINCREMENT, uid INTEGER NOT NULL UNIQUE)`,
	} {
		_, err = db.Exec(ddl)
		require.NoError(t, err)
	}
	return db
}

type fakeQueue struct {
	db  *sql.DB
	err error

	mu sync.Mutex
	// rowFirst records whether the item row was visible to the job insert.
	rowFirst map[uint32]bool
}

func newFakeQueue(db *sql.DB) *fakeQueue {
	return &fakeQueue{db: db, rowFirst: map[uint32]bool{}}
}

func (q *fakeQueue) EnqueueTx(ctx context.Context, tx dbx.DBTX, uid uint32) (bool, error) {
	if q.err != nil {
		return false, q.err
	}

	var rows int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_items WHERE uid = ?`, int64(uid)).Scan(&rows); err != nil {
		return false, err
	}
	q.mu.Lock()
	q.rowFirst[uid] = rows == 1
	q.mu.Unlock()

	res, err := tx.ExecContext(ctx, `INSERT INTO jobs (uid) VALUES (?) ON CONFLICT (uid) DO NOTHING`, int64(uid))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (q *fakeQueue) uids() []uint32 {
	rows, err := q.db.Query(`SELECT uid FROM jobs ORDER BY id`)
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			panic(err)
		}
		out = append(out, uint32(uid))
	}
	return out
}

func (q *fakeQueue) count() int { return len(q.uids()) }

func (q *fakeQueue) sawRowFirst(uid uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rowFirst[uid]
}

// fakeItems stores rows through whichever handle the repository manager
// bound it to.
type fakeItems struct {
	db        *sql.DB
	h         dbx.DBTX
	insertErr error
}

func newFakeItems(db *sql.DB) *fakeItems {
	return &fakeItems{db: db, h: db}
}

func (f *fakeItems) on(h dbx.DBTX) *fakeItems {
	c := *f
	c.h = h
	return &c
}

func (f *fakeItems) Get(ctx context.Context, mailbox string, uid uint32) (*models.ProcessedItem, error) {
	it := &models.ProcessedItem{UID: uid}
	var status string
	err := f.h.QueryRowContext(ctx,
		`SELECT mailbox, message_id, sender, subject, status FROM processed_items WHERE uid = ?`, int64(uid)).
		Scan(&it.Mailbox, &it.MessageID, &it.Sender, &it.Subject, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, err
	}
	it.Status = models.ItemStatus(status)
	return it, nil
}

func (f *fakeItems) Exists(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	_, err := f.Get(ctx, mailbox, uid)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeItems) Insert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	res, err := f.h.ExecContext(ctx,
		`INSERT INTO processed_items (uid, mailbox, message_id, sender, subject, status)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (uid) DO NOTHING`,
		int64(item.UID), item.Mailbox, item.MessageID, item.Sender, item.Subject, string(item.Status))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (f *fakeItems) SetEnvelope(ctx context.Context, mailbox string, uid uint32, sender, subject, messageID string) error {
	return nil
}

func (f *fakeItems) SetStatus(ctx context.Context, mailbox string, uid uint32, status models.ItemStatus, lastError string) error {
	return nil
}

func (f *fakeItems) SetResult(ctx context.Context, mailbox string, uid uint32, containerID, archiveRef, note string) error {
	return nil
}

func (f *fakeItems) seed(t *testing.T, item *models.ProcessedItem) {
	t.Helper()
	ok, err := f.Insert(context.Background(), item)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fakeItems) row(t *testing.T, uid uint32) *models.ProcessedItem {
	t.Helper()
	it, err := f.on(f.db).Get(context.Background(), "", uid)
	require.NoError(t, err)
	return it
}

func (f *fakeItems) count() int {
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM processed_items`).Scan(&n); err != nil {
		panic(err)
	}
	return n
}

type fakeRepoManager struct {
	items *fakeItems
}

func (m fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeRepoManager) Users(dbx.DBTX) users.Repository            { return nil }
func (m fakeRepoManager) Vaults(dbx.DBTX) vaults.Repository          { return nil }
func (m fakeRepoManager) Folders(dbx.DBTX) folders.Repository        { return nil }
func (m fakeRepoManager) Items(h dbx.DBTX) items.Repository          { return m.items.on(h) }
func (m fakeRepoManager) Uploads(dbx.DBTX) uploads.Repository        { return nil }
func (m fakeRepoManager) Usage(dbx.DBTX) usage.Repository            { return nil }
func (m fakeRepoManager) Grants(dbx.DBTX) grants.Repository          { return nil }
func (m fakeRepoManager) Jobs(dbx.DBTX) jobs.Repository              { return nil }
