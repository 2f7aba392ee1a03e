// Package memstore provides the in-memory pairing-session backend used by
// single-node deployments and tests. Per-record locking keeps transitions on
// the same device code serialized while unrelated sessions proceed in parallel.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claraverse/pairing-api/internal/domain"
)

type record struct {
	mu   sync.Mutex
	sess domain.PairingSession
}

// PairingStore holds pairing sessions keyed by device code, with a secondary
// index from pending user codes to their owning device code. The store-level
// mutex only guards the maps; status transitions serialize on the record mutex.
type PairingStore struct {
	mu       sync.RWMutex
	byDevice map[string]*record
	byUser   map[string]string

	now func() time.Time
}

func NewPairingStore() *PairingStore {
	return &PairingStore{
		byDevice: make(map[string]*record),
		byUser:   make(map[string]string),
		now:      time.Now,
	}
}

// NewPairingStoreWithClock allows tests to control time.
func NewPairingStoreWithClock(now func() time.Time) *PairingStore {
	s := NewPairingStore()
	s.now = now
	return s
}

// Insert stores a new session, failing with ErrDuplicateCode if the device
// code exists or the user code is owned by a live pending session. The check
// and the insert happen under one lock so concurrent generators cannot race
// past each other.
func (s *PairingStore) Insert(_ context.Context, sess *domain.PairingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDevice[sess.DeviceCode]; ok {
		return fmt.Errorf("device code exists: %w", domain.ErrDuplicateCode)
	}
	if ownerCode, ok := s.byUser[sess.UserCode]; ok {
		if owner, ok := s.byDevice[ownerCode]; ok {
			owner.mu.Lock()
			live := owner.sess.Status == domain.StatusPending && !owner.sess.Expired(s.now())
			owner.mu.Unlock()
			if live {
				return fmt.Errorf("user code taken: %w", domain.ErrDuplicateCode)
			}
		}
	}

	s.byDevice[sess.DeviceCode] = &record{sess: *sess}
	s.byUser[sess.UserCode] = sess.DeviceCode
	return nil
}

func (s *PairingStore) GetByDeviceCode(_ context.Context, deviceCode string) (*domain.PairingSession, error) {
	s.mu.RLock()
	rec, ok := s.byDevice[deviceCode]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}
	rec.mu.Lock()
	cp := rec.sess
	rec.mu.Unlock()
	return &cp, nil
}

// GetByUserCode finds the pending, unexpired session owning userCode. Expired
// or already-resolved sessions are never discoverable this way, so a stale
// code cannot bind to an old session.
func (s *PairingStore) GetByUserCode(_ context.Context, userCode string) (*domain.PairingSession, error) {
	s.mu.RLock()
	deviceCode, ok := s.byUser[userCode]
	var rec *record
	if ok {
		rec, ok = s.byDevice[deviceCode]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}
	rec.mu.Lock()
	cp := rec.sess
	rec.mu.Unlock()
	// The index is cleaned lazily, so re-verify the record itself.
	if cp.UserCode != userCode || cp.Status != domain.StatusPending || cp.Expired(s.now()) {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}
	return &cp, nil
}

// CompareAndTransition atomically verifies the current status equals expected
// (and the session is not past expiry, unless the target status is expired),
// then applies next and the mutation. Fails with ErrStaleState when the
// precondition does not hold. This is the sole mutation primitive.
func (s *PairingStore) CompareAndTransition(_ context.Context, deviceCode string, expected, next domain.PairingStatus, mut domain.PairingMutation) (*domain.PairingSession, error) {
	s.mu.RLock()
	rec, ok := s.byDevice[deviceCode]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}

	now := s.now().Unix()
	rec.mu.Lock()
	sess := &rec.sess
	switch {
	case sess.Status != expected:
		cur := sess.Status
		rec.mu.Unlock()
		return nil, fmt.Errorf("status is %q, expected %q: %w", cur, expected, domain.ErrStaleState)
	case next == domain.StatusExpired && now < sess.ExpiresAt:
		rec.mu.Unlock()
		return nil, fmt.Errorf("session not yet expired: %w", domain.ErrStaleState)
	case next != domain.StatusExpired && now >= sess.ExpiresAt:
		rec.mu.Unlock()
		return nil, fmt.Errorf("session expired: %w", domain.ErrStaleState)
	case expected != next && !expected.CanTransition(next):
		cur := sess.Status
		rec.mu.Unlock()
		return nil, fmt.Errorf("illegal transition %q -> %q: %w", cur, next, domain.ErrStaleState)
	}

	if mut.BoundUserID != nil {
		sess.BoundUserID = *mut.BoundUserID
	}
	if mut.AuthorizedAt != nil {
		sess.AuthorizedAt = *mut.AuthorizedAt
	}
	if mut.ResolvedAt != nil {
		sess.ResolvedAt = *mut.ResolvedAt
	}
	if mut.LastPolledAt != nil {
		sess.LastPolledAt = *mut.LastPolledAt
	}
	if mut.PollInterval != nil {
		sess.PollInterval = *mut.PollInterval
	}
	sess.PollCount += mut.PollCountInc
	sess.Status = next
	cp := *sess
	rec.mu.Unlock()

	// Leaving pending frees the user code for reuse. Done after the record
	// lock is released; GetByUserCode re-verifies status, so a momentarily
	// stale index entry is harmless.
	if expected == domain.StatusPending && next != domain.StatusPending {
		s.mu.Lock()
		if s.byUser[cp.UserCode] == deviceCode {
			delete(s.byUser, cp.UserCode)
		}
		s.mu.Unlock()
	}

	return &cp, nil
}

// ExpirePending transitions every pending session past its expiry to expired,
// one record at a time so live traffic on other sessions is never stalled.
func (s *PairingStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	codes := s.snapshotCodes()
	resolved := now.Unix()
	n := 0
	for _, code := range codes {
		_, err := s.CompareAndTransition(ctx, code, domain.StatusPending, domain.StatusExpired,
			domain.PairingMutation{ResolvedAt: &resolved})
		if err == nil {
			n++
		}
	}
	return n, nil
}

// EvictTerminal removes terminal sessions that resolved before the cutoff,
// plus any session whose expiry itself predates the cutoff (an authorized
// session the device never exchanged has no terminal transition to key on).
// After eviction the device code is indistinguishable from one that never
// existed.
func (s *PairingStore) EvictTerminal(_ context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.Unix()
	n := 0
	for _, code := range s.snapshotCodes() {
		s.mu.RLock()
		rec, ok := s.byDevice[code]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		rec.mu.Lock()
		evict := (rec.sess.Status.Terminal() && rec.sess.ResolvedAt > 0 && rec.sess.ResolvedAt <= cutoff) ||
			rec.sess.ExpiresAt <= cutoff
		userCode := rec.sess.UserCode
		rec.mu.Unlock()
		if !evict {
			continue
		}
		s.mu.Lock()
		delete(s.byDevice, code)
		if s.byUser[userCode] == code {
			delete(s.byUser, userCode)
		}
		s.mu.Unlock()
		n++
	}
	return n, nil
}

func (s *PairingStore) snapshotCodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.byDevice))
	for code := range s.byDevice {
		codes = append(codes, code)
	}
	return codes
}
