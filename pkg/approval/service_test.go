package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const irHash = "3f2c8b1c9a4d5e6f3f2c8b1c9a4d5e6f3f2c8b1c9a4d5e6f3f2c8b1c9a4d5e6f"

func newTestService(now time.Time) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store).WithClock(func() time.Time { return now })
	return svc, store
}

func TestCreate_ReturnsRawTokenOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(time.Now())

	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ApprovalID)
	assert.Len(t, grant.Token, 64, "32 bytes hex encoded")

	rec, err := store.Get(ctx, grant.ApprovalID)
	require.NoError(t, err)
	assert.NotEqual(t, grant.Token, rec.TokenHash, "raw token must not be stored")
	assert.Equal(t, HashToken(grant.Token), rec.TokenHash)
}

func TestCreate_TTLBounds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())

	_, err := svc.Create(ctx, "acme", irHash, 30*time.Second)
	require.ErrorIs(t, err, ErrInvalidTTL)

	_, err = svc.Create(ctx, "acme", irHash, 25*time.Hour)
	require.ErrorIs(t, err, ErrInvalidTTL)

	now := time.Now()
	svc, _ = newTestService(now)
	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), grant.ExpiresAt)
}

func TestCreate_RequiresBinding(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())

	_, err := svc.Create(ctx, "", irHash, 0)
	require.Error(t, err)
	_, err = svc.Create(ctx, "acme", "  ", 0)
	require.Error(t, err)
}

func TestConsume_SingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())

	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)

	first, err := svc.Consume(ctx, "acme", irHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConsumed, first.Status)
	assert.Equal(t, grant.ApprovalID, first.ApprovalID)

	second, err := svc.Consume(ctx, "acme", irHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, second.Status)
	assert.Equal(t, CauseAlreadyConsumed, second.Cause)
	assert.Empty(t, second.ApprovalID)
}

func TestConsume_ConcurrentExactlyOneSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())

	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)

	const callers = 32
	results := make([]ConsumeResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Consume(ctx, "acme", irHash, grant.Token)
		}(i)
	}
	wg.Wait()

	consumed := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.Status == OutcomeConsumed {
			consumed++
		} else {
			assert.Equal(t, OutcomeInvalid, res.Status)
		}
	}
	assert.Equal(t, 1, consumed)
}

func TestConsume_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore()
	clock := now
	svc := NewService(store).WithClock(func() time.Time { return clock })

	grant, err := svc.Create(ctx, "acme", irHash, MinTTL)
	require.NoError(t, err)

	clock = now.Add(MinTTL + time.Second)
	res, err := svc.Consume(ctx, "acme", irHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Status)
	assert.Equal(t, CauseExpired, res.Cause)
}

func TestConsume_BindingMismatchesAreInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())

	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)

	wrongTenant, err := svc.Consume(ctx, "rival", irHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, wrongTenant.Status)
	assert.Equal(t, CauseNotFound, wrongTenant.Cause)

	otherHash := "deadbeef" + irHash[8:]
	wrongHash, err := svc.Consume(ctx, "acme", otherHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, wrongHash.Status)

	wrongToken, err := svc.Consume(ctx, "acme", irHash, "guessed-token")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, wrongToken.Status)
	assert.Equal(t, CauseTokenMismatch, wrongToken.Cause)

	// The grant remains consumable after every failed probe.
	res, err := svc.Consume(ctx, "acme", irHash, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConsumed, res.Status)
}

func TestStatus_NeverLeaksToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	svc, _ := newTestService(now)

	grant, err := svc.Create(ctx, "acme", irHash, 0)
	require.NoError(t, err)

	info, err := svc.Status(ctx, grant.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, info.State)
	assert.Equal(t, "acme", info.TenantID)
	assert.Equal(t, irHash, info.IRHash)
	assert.Nil(t, info.ConsumedAt)

	_, err = svc.Consume(ctx, "acme", irHash, grant.Token)
	require.NoError(t, err)

	info, err = svc.Status(ctx, grant.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StateConsumed, info.State)
	require.NotNil(t, info.ConsumedAt)
}

func TestStatus_Unknown(t *testing.T) {
	svc, _ := newTestService(time.Now())
	_, err := svc.Status(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	svc, store := newTestService(now)

	_, err := svc.Create(ctx, "acme", irHash, MinTTL)
	require.NoError(t, err)
	keep, err := svc.Create(ctx, "acme", "feed"+irHash[4:], MaxTTL)
	require.NoError(t, err)

	removed := store.PurgeExpired(now.Add(2 * MinTTL))
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, keep.ApprovalID)
	require.NoError(t, err)
}

func TestRecord_StateAt(t *testing.T) {
	now := time.Now()
	rec := &Record{ExpiresAt: now.Add(time.Minute)}
	assert.Equal(t, StatePending, rec.StateAt(now))
	assert.Equal(t, StateExpired, rec.StateAt(now.Add(2*time.Minute)))

	consumed := now
	rec.ConsumedAt = &consumed
	assert.Equal(t, StateConsumed, rec.StateAt(now.Add(2*time.Minute)))
}
