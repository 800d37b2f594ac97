package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/database/dbtest"
	"github.com/BradenHooton/sentinel/internal/models"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// rateLimitStore and sessionTokenStore are the shapes shared by the SQL and
// in-memory repositories; contract tests run against both.
type rateLimitStore interface {
	Get(ctx context.Context, key string) (*models.AttemptRecord, error)
	Upsert(ctx context.Context, rec *models.AttemptRecord) error
	Delete(ctx context.Context, key string) error
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionTokenStore interface {
	Create(ctx context.Context, tok *models.SessionToken) error
	Consume(ctx context.Context, token string, now time.Time) (string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func runRateLimitContract(t *testing.T, repo rateLimitStore) {
	ctx := context.Background()

	_, err := repo.Get(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)

	rec := &models.AttemptRecord{Key: "alice", Count: 2, WindowStart: baseTime, LastUpdate: baseTime.Add(time.Second)}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.True(t, got.WindowStart.Equal(baseTime))
	assert.True(t, got.LastUpdate.Equal(baseTime.Add(time.Second)))

	rec.Count = 3
	require.NoError(t, repo.Upsert(ctx, rec))
	got, err = repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)

	require.NoError(t, repo.Upsert(ctx, &models.AttemptRecord{Key: "bob", Count: 1, WindowStart: baseTime, LastUpdate: baseTime.Add(2 * time.Hour)}))
	n, err := repo.DeleteIdleBefore(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "bob"))
	require.NoError(t, repo.Delete(ctx, "bob"))
	_, err = repo.Get(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func runSessionTokenContract(t *testing.T, repo sessionTokenStore) {
	ctx := context.Background()

	tok := &models.SessionToken{Token: "tok-1", Username: "alice", CreatedAt: baseTime, ExpiresAt: baseTime.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, tok))

	username, err := repo.Consume(ctx, "tok-1", baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = repo.Consume(ctx, "tok-1", baseTime.Add(2*time.Second))
	assert.ErrorIs(t, err, models.ErrTokenInvalid, "second use must fail")

	_, err = repo.Consume(ctx, "never-issued", baseTime)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	expiring := &models.SessionToken{Token: "tok-2", Username: "bob", CreatedAt: baseTime, ExpiresAt: baseTime.Add(time.Second)}
	require.NoError(t, repo.Create(ctx, expiring))
	_, err = repo.Consume(ctx, "tok-2", baseTime.Add(2*time.Second))
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	// Expired token was deleted during validation, so cleanup finds only tok-1.
	n, err := repo.DeleteExpired(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteExpired(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "cleanup is idempotent")
}

func TestRateLimitRepository_SQL(t *testing.T) {
	runRateLimitContract(t, NewRateLimitRepository(dbtest.OpenSQLite(t)))
}

func TestRateLimitRepository_Memory(t *testing.T) {
	repo, err := NewMemoryRateLimitRepository(100, nil)
	require.NoError(t, err)
	runRateLimitContract(t, repo)
}

func TestSessionTokenRepository_SQL(t *testing.T) {
	runSessionTokenContract(t, NewSessionTokenRepository(dbtest.OpenSQLite(t)))
}

func TestSessionTokenRepository_Memory(t *testing.T) {
	runSessionTokenContract(t, NewMemorySessionTokenRepository())
}

func TestSessionTokenRepository_SQL_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	repo := NewSessionTokenRepository(dbtest.OpenSQLite(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.SessionToken{
		Token: "race", Username: "alice", CreatedAt: baseTime, ExpiresAt: baseTime.Add(time.Minute),
	}))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(ctx, "race", baseTime); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestMemoryRateLimitRepository_EvictsLeastRecentlyUsed(t *testing.T) {
	var evictions atomic.Int32
	repo, err := NewMemoryRateLimitRepository(2, func() { evictions.Add(1) })
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		require.NoError(t, repo.Upsert(ctx, &models.AttemptRecord{Key: key, Count: 1, WindowStart: baseTime, LastUpdate: baseTime}))
	}
	_, err = repo.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, &models.AttemptRecord{Key: "c", Count: 1, WindowStart: baseTime, LastUpdate: baseTime}))

	assert.Equal(t, 2, repo.Len())
	_, err = repo.Get(ctx, "b")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int32(1), evictions.Load())

	require.NoError(t, repo.Delete(ctx, "a"))
	assert.Equal(t, int32(1), evictions.Load(), "explicit deletes are not evictions")
}

func TestMemoryRateLimitRepository_RetainedRecordsSurviveEviction(t *testing.T) {
	var evictions atomic.Int32
	repo, err := NewMemoryRateLimitRepository(2, func() { evictions.Add(1) })
	require.NoError(t, err)
	repo.SetRetain(func(rec models.AttemptRecord) bool { return rec.Count >= 3 })
	ctx := context.Background()

	upsert := func(key string, count int) {
		require.NoError(t, repo.Upsert(ctx, &models.AttemptRecord{Key: key, Count: count, WindowStart: baseTime, LastUpdate: baseTime}))
	}

	upsert("locked", 3)
	upsert("a", 1)
	upsert("b", 1)

	_, err = repo.Get(ctx, "locked")
	require.NoError(t, err, "retained record is skipped for the oldest unretained one")
	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// With nothing else to evict the bound still wins.
	upsert("b", 3)
	upsert("c", 1)
	assert.Equal(t, 2, repo.Len())
	assert.Equal(t, int32(2), evictions.Load())
}

func TestAuditLogRepository(t *testing.T) {
	repo := NewAuditLogRepository(dbtest.OpenSQLite(t))
	ctx := context.Background()

	alice := "alice"
	success := false
	ip := "203.0.113.9"
	require.NoError(t, repo.Create(ctx, &models.AuditLog{
		ID:        "e1",
		Timestamp: baseTime.AddDate(0, 0, -40),
		Username:  &alice,
		Action:    models.AuditEventLoginAttempt,
		Success:   &success,
		IPAddress: &ip,
		Details:   models.AuditDetails{"reason": "invalid"},
	}))
	require.NoError(t, repo.Create(ctx, &models.AuditLog{
		ID:        "e2",
		Timestamp: baseTime,
		Action:    models.AuditEventConfigChange,
		Details:   models.AuditDetails{"setting": "auto_submit"},
	}))

	logs, err := repo.List(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "e2", logs[0].ID, "newest first")
	assert.Nil(t, logs[0].Success)
	assert.Equal(t, "auto_submit", logs[0].Details["setting"])

	logs, err = repo.List(ctx, AuditFilter{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Success)
	assert.False(t, *logs[0].Success)
	assert.Equal(t, ip, *logs[0].IPAddress)

	n, err := repo.DeleteBefore(ctx, baseTime.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err = repo.List(ctx, AuditFilter{Action: models.AuditEventLoginAttempt})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestFailedAttemptRepository(t *testing.T) {
	repo := NewFailedAttemptRepository(dbtest.OpenSQLite(t))
	ctx := context.Background()

	require.NoError(t, repo.RecordFailure(ctx, "alice", "local", baseTime))
	require.NoError(t, repo.RecordFailure(ctx, "alice", "local", baseTime.Add(time.Second)))
	require.NoError(t, repo.RecordFailure(ctx, "alice", "10.0.0.1", baseTime))

	fa, err := repo.Get(ctx, "alice", "local")
	require.NoError(t, err)
	assert.Equal(t, 2, fa.AttemptCount)
	assert.True(t, fa.LastAttempt.Equal(baseTime.Add(time.Second)))

	require.NoError(t, repo.Clear(ctx, "alice", "local"))
	_, err = repo.Get(ctx, "alice", "local")
	assert.ErrorIs(t, err, models.ErrNotFound)

	n, err := repo.DeleteBefore(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMFADeviceRepository(t *testing.T) {
	repo := NewMFADeviceRepository(dbtest.OpenSQLite(t))
	ctx := context.Background()

	_, err := repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateLastUsedAt(ctx, "alice", baseTime), models.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, &models.MFADevice{
		Username:        "alice",
		SecretEncrypted: []byte{1, 2, 3},
		Nonce:           []byte{4, 5, 6},
		CreatedAt:       baseTime,
	}))

	dev, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, dev.SecretEncrypted)
	assert.Nil(t, dev.LastUsedAt)

	require.NoError(t, repo.UpdateLastUsedAt(ctx, "alice", baseTime.Add(time.Minute)))
	dev, err = repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, dev.LastUsedAt)
	assert.True(t, dev.LastUsedAt.Equal(baseTime.Add(time.Minute)))

	require.NoError(t, repo.Delete(ctx, "alice"))
	_, err = repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "alice"), models.ErrNotFound)
}
