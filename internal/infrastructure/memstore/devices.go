package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claraverse/pairing-api/internal/domain"
)

// DeviceRepo is the in-memory device registry used when PAIRING_STORE=memory.
type DeviceRepo struct {
	mu      sync.RWMutex
	devices map[string]*domain.UserDevice
}

func NewDeviceRepo() *DeviceRepo {
	return &DeviceRepo{devices: make(map[string]*domain.UserDevice)}
}

func (r *DeviceRepo) Put(_ context.Context, d *domain.UserDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.devices[d.DeviceID] = &cp
	return nil
}

func (r *DeviceRepo) Get(_ context.Context, deviceID string) (*domain.UserDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device not found: %w", domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (r *DeviceRepo) GetByRefreshTokenHash(_ context.Context, hash string) (*domain.UserDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.RefreshTokenHash == hash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("device not found: %w", domain.ErrNotFound)
}

func (r *DeviceRepo) ListByUser(_ context.Context, userID string) ([]domain.UserDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.UserDevice
	for _, d := range r.devices {
		if d.UserID == userID && d.Active {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *DeviceRepo) Rename(_ context.Context, deviceID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device not found: %w", domain.ErrNotFound)
	}
	d.Name = name
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *DeviceRepo) Revoke(_ context.Context, deviceID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device not found: %w", domain.ErrNotFound)
	}
	d.Active = false
	d.RevokedAt = &at
	d.UpdatedAt = at
	return nil
}

func (r *DeviceRepo) RotateRefreshToken(_ context.Context, deviceID, newHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device not found: %w", domain.ErrNotFound)
	}
	d.RefreshTokenHash = newHash
	d.LastActiveAt = at
	d.UpdatedAt = at
	return nil
}
