package domain

import "time"

// PairingStatus is the lifecycle state of a pairing session.
// Transitions are one-way: pending -> authorized|denied|expired, authorized -> consumed.
type PairingStatus string

const (
	StatusPending    PairingStatus = "pending"
	StatusAuthorized PairingStatus = "authorized"
	StatusDenied     PairingStatus = "denied"
	StatusExpired    PairingStatus = "expired"
	StatusConsumed   PairingStatus = "consumed"
)

// Terminal reports whether no further transition is permitted from s.
func (s PairingStatus) Terminal() bool {
	return s == StatusDenied || s == StatusExpired || s == StatusConsumed
}

// CanTransition reports whether s -> next is a legal transition.
func (s PairingStatus) CanTransition(next PairingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAuthorized || next == StatusDenied || next == StatusExpired
	case StatusAuthorized:
		return next == StatusConsumed
	default:
		return false
	}
}

// DeviceInfo is opaque client metadata captured at session creation.
// Informational only — never used in any protocol decision.
type DeviceInfo struct {
	ClientID string `json:"client_id" dynamodbav:"client_id"`
	Version  string `json:"version" dynamodbav:"version"`
	Platform string `json:"platform" dynamodbav:"platform"` // darwin, linux, windows
}

// PairingSession links a device code, a user code, and the eventual user binding.
// Timestamps that participate in comparisons are Unix seconds so both store
// backends can evaluate them without parsing.
type PairingSession struct {
	DeviceCode   string        `json:"device_code" dynamodbav:"device_code"` // 64-char hex, the client's secret
	UserCode     string        `json:"user_code" dynamodbav:"user_code"`     // XXXX-XXXX, typed by the human
	Status       PairingStatus `json:"status" dynamodbav:"session_status"`
	DeviceInfo   DeviceInfo    `json:"device_info" dynamodbav:"device_info"`
	BoundUserID  string        `json:"bound_user_id,omitempty" dynamodbav:"bound_user_id"` // set exactly once, on approval
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt    int64         `json:"expires_at" dynamodbav:"expires_at"`     // Unix seconds, fixed at creation
	PollInterval int           `json:"poll_interval" dynamodbav:"poll_interval"` // seconds
	LastPolledAt int64         `json:"last_polled_at,omitempty" dynamodbav:"last_polled_at"` // Unix seconds, 0 = never
	PollCount    int           `json:"poll_count" dynamodbav:"poll_count"`
	AuthorizedAt int64         `json:"authorized_at,omitempty" dynamodbav:"authorized_at"`
	ResolvedAt   int64         `json:"resolved_at,omitempty" dynamodbav:"resolved_at"` // set on any terminal transition
	EvictAt      int64         `json:"-" dynamodbav:"evict_at"`                        // DynamoDB TTL attribute
}

// Expired reports whether the session is past its expiry, regardless of the
// stored status. Callers must treat an expired-by-clock session exactly like
// one the reaper has already marked.
func (s *PairingSession) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt || s.Status == StatusExpired
}

// PairingMutation carries the field updates applied together with a status
// transition. Nil fields are left untouched.
type PairingMutation struct {
	BoundUserID  *string
	AuthorizedAt *int64
	ResolvedAt   *int64
	LastPolledAt *int64
	PollInterval *int
	PollCountInc int
}
