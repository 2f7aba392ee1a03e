package domain

import "time"

// Audit event types for the pairing lifecycle.
const (
	AuditCodeGenerated  = "pairing_code_generated"
	AuditCodeEntered    = "pairing_code_entered"
	AuditAuthorized     = "pairing_authorized"
	AuditDenied         = "pairing_denied"
	AuditConsumed       = "pairing_consumed"
	AuditApproveFailed  = "pairing_approve_failed"
	AuditDeviceRevoked  = "device_revoked"
	AuditTokenRefreshed = "device_token_refreshed"
)

// AuditEvent records a pairing lifecycle event. Best-effort: write failures
// are logged and never surfaced to callers.
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type AuditEvent struct {
	EventID   string            `json:"event_id" dynamodbav:"event_id"`
	EventType string            `json:"event_type" dynamodbav:"event_type"`
	UserID    string            `json:"user_id,omitempty" dynamodbav:"user_id"`
	DeviceID  string            `json:"device_id,omitempty" dynamodbav:"device_id"`
	Metadata  map[string]string `json:"metadata,omitempty" dynamodbav:"metadata"`
	CreatedAt time.Time         `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt int64             `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix seconds)
}
