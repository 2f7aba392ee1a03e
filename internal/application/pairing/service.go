package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/claraverse/pairing-api/internal/config"
	"github.com/claraverse/pairing-api/internal/domain"
	"github.com/claraverse/pairing-api/internal/pkg/id"
	"github.com/claraverse/pairing-api/internal/pkg/token"
	"github.com/claraverse/pairing-api/internal/pkg/usercode"
)

// maxGenerationAttempts bounds the retry loop when freshly generated codes
// collide with live sessions.
const maxGenerationAttempts = 5

// Store is the session backend. Both the in-memory store and the DynamoDB
// repo satisfy it; CompareAndTransition is the only mutation primitive.
type Store interface {
	Insert(ctx context.Context, sess *domain.PairingSession) error
	GetByDeviceCode(ctx context.Context, deviceCode string) (*domain.PairingSession, error)
	GetByUserCode(ctx context.Context, userCode string) (*domain.PairingSession, error)
	CompareAndTransition(ctx context.Context, deviceCode string, expected, next domain.PairingStatus, mut domain.PairingMutation) (*domain.PairingSession, error)
	ExpirePending(ctx context.Context, now time.Time) (int, error)
	EvictTerminal(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditLog records pairing lifecycle events.
type AuditLog interface {
	Put(ctx context.Context, ev *domain.AuditEvent) error
}

// EventPublisher pushes pairing events to interested services.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]string) error
}

type CreateResult struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// PollState distinguishes the three non-error outcomes of a poll.
type PollState string

const (
	PollPending  PollState = "pending"
	PollSlowDown PollState = "slow_down"
	PollSuccess  PollState = "success"
)

type PollResult struct {
	State       PollState
	Interval    int
	BoundUserID string
	DeviceInfo  domain.DeviceInfo
}

type Service interface {
	NewSession(ctx context.Context, info domain.DeviceInfo) (*CreateResult, error)
	Poll(ctx context.Context, deviceCode string) (*PollResult, error)
	Approve(ctx context.Context, userCode, userID string) error
	Deny(ctx context.Context, userCode, userID string) error
}

type service struct {
	store    Store
	audit    AuditLog
	events   EventPublisher
	attempts *attemptTracker
	cfg      *config.Config
	now      func() time.Time
}

func NewService(store Store, audit AuditLog, events EventPublisher, cfg *config.Config) Service {
	return &service{
		store:    store,
		audit:    audit,
		events:   events,
		attempts: newAttemptTracker(cfg.MaxApproveAttempts, cfg.ApproveAttemptsWindow),
		cfg:      cfg,
		now:      time.Now,
	}
}

// NewSession mints a device code and user code pair and stores the pending
// session. Collisions with live codes are retried a bounded number of times.
func (s *service) NewSession(ctx context.Context, info domain.DeviceInfo) (*CreateResult, error) {
	now := s.now().UTC()
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		deviceCode, err := token.NewDeviceCode()
		if err != nil {
			return nil, err
		}
		userCode, err := usercode.New()
		if err != nil {
			return nil, err
		}

		sess := &domain.PairingSession{
			DeviceCode:   deviceCode,
			UserCode:     userCode,
			Status:       domain.StatusPending,
			DeviceInfo:   info,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.cfg.PairingCodeTTL).Unix(),
			PollInterval: s.cfg.BasePollInterval,
			EvictAt:      now.Add(s.cfg.PairingCodeTTL + s.cfg.RetentionWindow).Unix(),
		}
		err = s.store.Insert(ctx, sess)
		if errors.Is(err, domain.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.recordAudit(ctx, domain.AuditCodeGenerated, "", map[string]string{
			"client_id": info.ClientID,
			"platform":  info.Platform,
			"user_code": userCode,
		})

		return &CreateResult{
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         s.cfg.AppURL + "/pair",
			VerificationURIComplete: s.cfg.AppURL + "/pair?code=" + userCode,
			ExpiresIn:               int(s.cfg.PairingCodeTTL.Seconds()),
			Interval:                s.cfg.BasePollInterval,
		}, nil
	}
	return nil, fmt.Errorf("could not generate unique pairing codes: %w", domain.ErrGenerationExhausted)
}

// Poll reports the session's progress to the polling device. Pending polls
// that arrive faster than the advertised interval get slow_down and a bumped
// interval; an authorized session is consumed exactly once.
func (s *service) Poll(ctx context.Context, deviceCode string) (*PollResult, error) {
	sess, err := s.store.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownCode
		}
		return nil, err
	}

	now := s.now()
	if sess.Expired(now) {
		// Lazy expiry: a clock-expired session behaves exactly as if the
		// reaper had already marked it, before any status branch.
		return nil, domain.ErrExpiredCode
	}

	switch sess.Status {
	case domain.StatusDenied:
		return nil, domain.ErrAccessDenied
	case domain.StatusConsumed:
		return nil, domain.ErrAlreadyConsumed
	case domain.StatusAuthorized:
		return s.consume(ctx, sess, now)
	case domain.StatusPending:
		return s.pollPending(ctx, sess, now)
	default:
		return nil, fmt.Errorf("unexpected session status %q", sess.Status)
	}
}

func (s *service) pollPending(ctx context.Context, sess *domain.PairingSession, now time.Time) (*PollResult, error) {
	nowUnix := now.Unix()
	premature := sess.LastPolledAt > 0 && nowUnix-sess.LastPolledAt < int64(sess.PollInterval)

	mut := domain.PairingMutation{LastPolledAt: &nowUnix, PollCountInc: 1}
	interval := sess.PollInterval
	if premature {
		interval = sess.PollInterval + s.cfg.PollIntervalStep
		if interval > s.cfg.MaxPollInterval {
			interval = s.cfg.MaxPollInterval
		}
		mut.PollInterval = &interval
	}

	updated, err := s.store.CompareAndTransition(ctx, sess.DeviceCode, domain.StatusPending, domain.StatusPending, mut)
	if errors.Is(err, domain.ErrStaleState) {
		// The session was resolved or expired between the read and the
		// update. Re-read once and report the new truth.
		return s.Poll(ctx, sess.DeviceCode)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownCode
		}
		return nil, err
	}

	state := PollPending
	if premature {
		state = PollSlowDown
	}
	return &PollResult{State: state, Interval: updated.PollInterval}, nil
}

func (s *service) consume(ctx context.Context, sess *domain.PairingSession, now time.Time) (*PollResult, error) {
	resolved := now.Unix()
	updated, err := s.store.CompareAndTransition(ctx, sess.DeviceCode, domain.StatusAuthorized, domain.StatusConsumed,
		domain.PairingMutation{ResolvedAt: &resolved})
	if errors.Is(err, domain.ErrStaleState) {
		// A concurrent poll won the exchange.
		return nil, domain.ErrAlreadyConsumed
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownCode
		}
		return nil, err
	}

	s.recordAudit(ctx, domain.AuditConsumed, updated.BoundUserID, map[string]string{"user_code": updated.UserCode})
	s.publish(ctx, domain.AuditConsumed, map[string]string{"user_id": updated.BoundUserID})

	return &PollResult{
		State:       PollSuccess,
		BoundUserID: updated.BoundUserID,
		DeviceInfo:  updated.DeviceInfo,
	}, nil
}

// Approve binds userID to the pending session named by userCode.
func (s *service) Approve(ctx context.Context, userCode, userID string) error {
	return s.resolve(ctx, userCode, userID, domain.StatusAuthorized)
}

// Deny rejects the pending session named by userCode.
func (s *service) Deny(ctx context.Context, userCode, userID string) error {
	return s.resolve(ctx, userCode, userID, domain.StatusDenied)
}

func (s *service) resolve(ctx context.Context, userCode, userID string, next domain.PairingStatus) error {
	normalized := usercode.Normalize(userCode)
	if !usercode.Valid(normalized) {
		return domain.ErrInvalidFormat
	}

	if !s.attempts.Allow(userID, s.now()) {
		return domain.ErrTooManyAttempts
	}

	sess, err := s.store.GetByUserCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.attempts.RecordFailure(userID, s.now())
			s.recordAudit(ctx, domain.AuditApproveFailed, userID, map[string]string{"reason": "unknown_code"})
			return domain.ErrNotFound
		}
		return err
	}

	s.recordAudit(ctx, domain.AuditCodeEntered, userID, map[string]string{"user_code": normalized})

	nowUnix := s.now().Unix()
	mut := domain.PairingMutation{ResolvedAt: &nowUnix}
	eventType := domain.AuditDenied
	if next == domain.StatusAuthorized {
		mut = domain.PairingMutation{BoundUserID: &userID, AuthorizedAt: &nowUnix}
		eventType = domain.AuditAuthorized
	}

	_, err = s.store.CompareAndTransition(ctx, sess.DeviceCode, domain.StatusPending, next, mut)
	if errors.Is(err, domain.ErrStaleState) {
		return domain.ErrAlreadyResolved
	}
	if err != nil {
		return err
	}

	s.recordAudit(ctx, eventType, userID, map[string]string{"user_code": sess.UserCode})
	s.publish(ctx, eventType, map[string]string{"user_id": userID, "platform": sess.DeviceInfo.Platform})
	return nil
}

// recordAudit is best-effort; a failed audit write never blocks the flow.
func (s *service) recordAudit(ctx context.Context, eventType, userID string, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	now := s.now().UTC()
	ev := &domain.AuditEvent{
		EventID:   id.New(),
		EventType: eventType,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.AuditRetention).Unix(),
	}
	if err := s.audit.Put(ctx, ev); err != nil {
		slog.Warn("failed to write audit event", "type", eventType, "err", err)
	}
}

func (s *service) publish(ctx context.Context, eventType string, payload map[string]string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		slog.Warn("failed to publish pairing event", "type", eventType, "err", err)
	}
}
