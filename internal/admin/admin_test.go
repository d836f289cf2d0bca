package admin

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	jobs      []*models.Job
	limit     int
	requeued  []uint32
	usage     models.UsageSummary
	revoked   int64
	migrated  bool
	secrets   map[string]string
	err       error
	lastEmail string
}

func (f *fakeExec) Failed(ctx context.Context, limit int) ([]*models.Job, error) {
	f.limit = limit
	return f.jobs, f.err
}

func (f *fakeExec) Requeue(ctx context.Context, uid uint32) error {
	if f.err != nil {
		return f.err
	}
	f.requeued = append(f.requeued, uid)
	return nil
}

func (f *fakeExec) Usage(ctx context.Context, email string) (models.UsageSummary, error) {
	f.lastEmail = email
	return f.usage, f.err
}

func (f *fakeExec) Revoke(ctx context.Context, email string) (int64, error) {
	f.lastEmail = email
	return f.revoked, f.err
}

func (f *fakeExec) Migrate(ctx context.Context) error {
	f.migrated = true
	return f.err
}

func (f *fakeExec) SetSecret(key, value string) error {
	if f.secrets == nil {
		f.secrets = map[string]string{}
	}
	f.secrets[key] = value
	return f.err
}

func run(t *testing.T, exec Executor, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), exec, args, &out)
	return out.String(), err
}

func TestRun_Failed(t *testing.T) {
	exec := &fakeExec{jobs: []*models.Job{
		{UID: 42, Attempts: 3, MaxAttempts: 3, LastError: "upload: network unavailable", UpdatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
	}}

	out, err := run(t, exec, "failed")
	require.NoError(t, err)
	assert.Equal(t, defaultFailedLimit, exec.limit)
	assert.Contains(t, out, "UID")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "2025-03-14T09:00:00Z")
	assert.Contains(t, out, "upload: network unavailable")

	_, err = run(t, exec, "failed", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, exec.limit)

	_, err = run(t, exec, "failed", "zero")
	assert.ErrorIs(t, err, ErrUsage)
}

func TestRun_FailedEmpty(t *testing.T) {
	out, err := run(t, &fakeExec{}, "failed")
	require.NoError(t, err)
	assert.Equal(t, "no failed jobs\n", out)
}

func TestRun_Requeue(t *testing.T) {
	exec := &fakeExec{}

	out, err := run(t, exec, "requeue", "17")
	require.NoError(t, err)
	assert.Equal(t, []uint32{17}, exec.requeued)
	assert.Equal(t, "requeued 17\n", out)

	_, err = run(t, exec, "requeue", "-1")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = run(t, exec, "requeue")
	assert.ErrorIs(t, err, ErrUsage)

	exec.err = common.ErrorNotFound
	_, err = run(t, exec, "requeue", "18")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRun_Usage(t *testing.T) {
	exec := &fakeExec{usage: models.UsageSummary{
		Items:       12,
		FreeItems:   10,
		Bytes:       2048,
		CostCents:   50,
		PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Billed:      true,
	}}

	out, err := run(t, exec, "usage", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", exec.lastEmail)
	assert.Contains(t, out, "2025-03-01..2025-04-01")
	assert.Contains(t, out, "12 (10 free, 0 remaining)")
	assert.Contains(t, out, "0.50")
	assert.Contains(t, out, "billed:    true")
}

func TestRun_RevokeMigrateSecret(t *testing.T) {
	exec := &fakeExec{revoked: 2}

	out, err := run(t, exec, "revoke", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "revoked 2 grant(s) for a@x.com\n", out)

	out, err = run(t, exec, "migrate")
	require.NoError(t, err)
	assert.True(t, exec.migrated)
	assert.Equal(t, "migrations applied\n", out)

	out, err = run(t, exec, "secret", "imap_password", "pw")
	require.NoError(t, err)
	assert.Equal(t, "pw", exec.secrets["imap_password"])
	assert.Equal(t, "stored imap_password\n", out)
}

func TestRun_Errors(t *testing.T) {
	_, err := run(t, &fakeExec{})
	assert.ErrorIs(t, err, ErrUsage)

	_, err = run(t, &fakeExec{}, "explode")
	assert.ErrorIs(t, err, ErrUsage)

	boom := errors.New("boom")
	_, err = run(t, &fakeExec{err: boom}, "migrate")
	assert.ErrorIs(t, err, boom)
}
