package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/claraverse/pairing-api/internal/domain"
	"github.com/claraverse/pairing-api/internal/pkg/id"
	"github.com/claraverse/pairing-api/internal/pkg/token"
)

// maxDeviceNameLength caps user-supplied device names.
const maxDeviceNameLength = 50

// Repo is the device persistence backend.
type Repo interface {
	Put(ctx context.Context, d *domain.UserDevice) error
	Get(ctx context.Context, deviceID string) (*domain.UserDevice, error)
	GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.UserDevice, error)
	ListByUser(ctx context.Context, userID string) ([]domain.UserDevice, error)
	Rename(ctx context.Context, deviceID, name string) error
	Revoke(ctx context.Context, deviceID string, at time.Time) error
	RotateRefreshToken(ctx context.Context, deviceID, newHash string, at time.Time) error
}

// TokenSigner issues access tokens for a paired device.
type TokenSigner interface {
	Sign(userID, deviceID string) (string, error)
	Expiry() time.Duration
}

// AuditLog records device lifecycle events.
type AuditLog interface {
	Put(ctx context.Context, ev *domain.AuditEvent) error
}

// TokenGrant is the credential bundle handed to a device after a successful
// pairing exchange or refresh.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
	UserID       string `json:"user_id"`
}

type Service interface {
	IssueCredentials(ctx context.Context, userID string, info domain.DeviceInfo) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken, deviceID string) (*TokenGrant, error)
	List(ctx context.Context, userID string) ([]domain.UserDevice, error)
	Rename(ctx context.Context, userID, deviceID, name string) error
	Revoke(ctx context.Context, userID, deviceID string) error
}

type service struct {
	repo           Repo
	signer         TokenSigner
	audit          AuditLog
	auditRetention time.Duration
}

func NewService(repo Repo, signer TokenSigner, audit AuditLog, auditRetention time.Duration) Service {
	return &service{repo: repo, signer: signer, audit: audit, auditRetention: auditRetention}
}

// IssueCredentials registers a device for userID and returns its first token
// grant. Called once per successful pairing exchange.
func (s *service) IssueCredentials(ctx context.Context, userID string, info domain.DeviceInfo) (*TokenGrant, error) {
	refreshToken, err := token.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &domain.UserDevice{
		DeviceID:         id.New(),
		UserID:           userID,
		Name:             defaultDeviceName(info),
		Platform:         info.Platform,
		ClientVersion:    info.Version,
		RefreshTokenHash: token.Hash(refreshToken),
		Active:           true,
		LastActiveAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Put(ctx, d); err != nil {
		return nil, err
	}

	access, err := s.signer.Sign(userID, d.DeviceID)
	if err != nil {
		return nil, err
	}

	return &TokenGrant{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.signer.Expiry().Seconds()),
		RefreshToken: refreshToken,
		DeviceID:     d.DeviceID,
		UserID:       userID,
	}, nil
}

// Refresh rotates the device's refresh token and issues a new access token.
// The presented token is single-use: rotation invalidates it even when the
// response is lost, so clients must persist the new token before retrying.
func (s *service) Refresh(ctx context.Context, refreshToken, deviceID string) (*TokenGrant, error) {
	d, err := s.repo.GetByRefreshTokenHash(ctx, token.Hash(refreshToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invalid refresh token: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if deviceID != "" && d.DeviceID != deviceID {
		return nil, fmt.Errorf("refresh token does not belong to device: %w", domain.ErrUnauthorized)
	}
	if !d.Active {
		return nil, fmt.Errorf("device revoked: %w", domain.ErrUnauthorized)
	}

	newToken, err := token.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.repo.RotateRefreshToken(ctx, d.DeviceID, token.Hash(newToken), now); err != nil {
		return nil, err
	}

	access, err := s.signer.Sign(d.UserID, d.DeviceID)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, domain.AuditTokenRefreshed, d.UserID, d.DeviceID)

	return &TokenGrant{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.signer.Expiry().Seconds()),
		RefreshToken: newToken,
		DeviceID:     d.DeviceID,
		UserID:       d.UserID,
	}, nil
}

func (s *service) List(ctx context.Context, userID string) ([]domain.UserDevice, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) Rename(ctx context.Context, userID, deviceID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxDeviceNameLength {
		return domain.ErrBadRequest
	}
	d, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return domain.ErrNotFound
	}
	return s.repo.Rename(ctx, deviceID, name)
}

// Revoke deactivates the device. Its refresh token stops working at once;
// outstanding access tokens age out on their own.
func (s *service) Revoke(ctx context.Context, userID, deviceID string) error {
	d, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return domain.ErrNotFound
	}
	if err := s.repo.Revoke(ctx, deviceID, time.Now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, domain.AuditDeviceRevoked, userID, deviceID)
	return nil
}

// defaultDeviceName derives a readable name from what the client reported.
func defaultDeviceName(info domain.DeviceInfo) string {
	platform := strings.TrimSpace(info.Platform)
	if platform == "" {
		return "Paired device"
	}
	switch strings.ToLower(platform) {
	case "darwin", "macos":
		return "Mac"
	case "windows":
		return "Windows PC"
	case "linux":
		return "Linux machine"
	default:
		return platform + " device"
	}
}

func (s *service) recordAudit(ctx context.Context, eventType, userID, deviceID string) {
	if s.audit == nil {
		return
	}
	now := time.Now().UTC()
	ev := &domain.AuditEvent{
		EventID:   id.New(),
		EventType: eventType,
		UserID:    userID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.auditRetention).Unix(),
	}
	if err := s.audit.Put(ctx, ev); err != nil {
		slog.Warn("failed to write audit event", "type", eventType, "err", err)
	}
}
