package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/claraverse/pairing-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(deviceCode, userCode string, ttl time.Duration) *domain.PairingSession {
	now := time.Now().UTC()
	return &domain.PairingSession{
		DeviceCode:   deviceCode,
		UserCode:     userCode,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl).Unix(),
		PollInterval: 5,
	}
}

func TestInsert_DuplicateDeviceCode(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	err := s.Insert(ctx, newSession("d1", "GHJK-6789", time.Minute))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCode))
}

func TestInsert_DuplicateUserCode_WhilePending(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	err := s.Insert(ctx, newSession("d2", "BCDF-2345", time.Minute))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCode))
}

func TestInsert_UserCodeReusableAfterResolution(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	uid := "u1"
	now := time.Now().Unix()
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusDenied,
		domain.PairingMutation{BoundUserID: &uid, ResolvedAt: &now})
	require.NoError(t, err)

	// The prior owner is terminal, so the code is free again.
	assert.NoError(t, s.Insert(ctx, newSession("d2", "BCDF-2345", time.Minute)))
}

func TestGetByUserCode_OnlyPendingUnexpired(t *testing.T) {
	fixed := time.Now().UTC()
	now := fixed
	s := NewPairingStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))

	got, err := s.GetByUserCode(ctx, "BCDF-2345")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DeviceCode)

	// Past expiry the session must not be discoverable, even before the
	// reaper physically marks it.
	now = fixed.Add(2 * time.Minute)
	_, err = s.GetByUserCode(ctx, "BCDF-2345")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetByUserCode_NotFoundAfterAuthorization(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	uid := "u1"
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
		domain.PairingMutation{BoundUserID: &uid})
	require.NoError(t, err)

	_, err = s.GetByUserCode(ctx, "BCDF-2345")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCompareAndTransition_WrongExpectedStatus(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))

	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusAuthorized, domain.StatusConsumed, domain.PairingMutation{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleState))
}

func TestCompareAndTransition_ExpiredSessionRejected(t *testing.T) {
	fixed := time.Now().UTC()
	now := fixed
	s := NewPairingStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Second)))
	now = fixed.Add(2 * time.Second)

	uid := "u1"
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
		domain.PairingMutation{BoundUserID: &uid})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleState))
}

func TestCompareAndTransition_ExpiryOnlyWhenDue(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))

	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusExpired, domain.PairingMutation{})
	require.Error(t, err, "a live session must not be force-expired")
	assert.True(t, errors.Is(err, domain.ErrStaleState))
}

func TestCompareAndTransition_AppliesMutation(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))

	uid := "u1"
	at := time.Now().Unix()
	got, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
		domain.PairingMutation{BoundUserID: &uid, AuthorizedAt: &at})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, got.Status)
	assert.Equal(t, "u1", got.BoundUserID)
	assert.Equal(t, at, got.AuthorizedAt)
}

func TestCompareAndTransition_AtMostOneConsume(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	uid := "u1"
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
		domain.PairingMutation{BoundUserID: &uid})
	require.NoError(t, err)

	const pollers = 32
	var wg sync.WaitGroup
	successes := make(chan struct{}, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().Unix()
			if _, err := s.CompareAndTransition(ctx, "d1", domain.StatusAuthorized, domain.StatusConsumed,
				domain.PairingMutation{ResolvedAt: &now}); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	n := 0
	for range successes {
		n++
	}
	assert.Equal(t, 1, n, "exactly one concurrent exchange may succeed")
}

func TestCompareAndTransition_SingleApprovalWins(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))

	const approvers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		uid := string(rune('a' + i))
		go func() {
			defer wg.Done()
			if _, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
				domain.PairingMutation{BoundUserID: &uid}); err == nil {
				mu.Lock()
				winners = append(winners, uid)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := s.GetByDeviceCode(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.BoundUserID)
}

func TestExpirePending(t *testing.T) {
	fixed := time.Now().UTC()
	now := fixed
	s := NewPairingStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Second)))
	require.NoError(t, s.Insert(ctx, newSession("d2", "GHJK-6789", time.Hour)))

	now = fixed.Add(2 * time.Second)
	n, err := s.ExpirePending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetByDeviceCode(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	live, err := s.GetByDeviceCode(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, live.Status)
}

func TestExpirePending_Idempotent(t *testing.T) {
	fixed := time.Now().UTC()
	now := fixed
	s := NewPairingStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Second)))
	now = fixed.Add(2 * time.Second)

	_, err := s.ExpirePending(ctx, now)
	require.NoError(t, err)
	n, err := s.ExpirePending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEvictTerminal(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	resolved := time.Now().Add(-time.Hour).Unix()
	uid := "u1"
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusDenied,
		domain.PairingMutation{BoundUserID: &uid, ResolvedAt: &resolved})
	require.NoError(t, err)

	n, err := s.EvictTerminal(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetByDeviceCode(ctx, "d1")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "evicted session must look like it never existed")
}

func TestEvictTerminal_AbandonedAuthorized(t *testing.T) {
	fixed := time.Now().UTC()
	now := fixed
	s := NewPairingStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	uid := "u1"
	authorized := now.Unix()
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusAuthorized,
		domain.PairingMutation{BoundUserID: &uid, AuthorizedAt: &authorized})
	require.NoError(t, err)

	// The device never exchanges. Once the expiry is past the cutoff the
	// session goes regardless of its non-terminal status.
	now = fixed.Add(time.Hour)
	n, err := s.EvictTerminal(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetByDeviceCode(ctx, "d1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEvictTerminal_KeepsRecentAndPending(t *testing.T) {
	s := NewPairingStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSession("d1", "BCDF-2345", time.Minute)))
	resolved := time.Now().Unix()
	_, err := s.CompareAndTransition(ctx, "d1", domain.StatusPending, domain.StatusDenied,
		domain.PairingMutation{ResolvedAt: &resolved})
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, newSession("d2", "GHJK-6789", time.Minute)))

	n, err := s.EvictTerminal(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
