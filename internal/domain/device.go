package domain

import "time"

// UserDevice is a headless client that completed pairing for a user.
type UserDevice struct {
	DeviceID         string     `json:"device_id" dynamodbav:"device_id"`
	UserID           string     `json:"user_id" dynamodbav:"user_id"`
	Name             string     `json:"name" dynamodbav:"name"` // user-editable
	Platform         string     `json:"platform" dynamodbav:"platform"`
	ClientVersion    string     `json:"client_version" dynamodbav:"client_version"`
	RefreshTokenHash string     `json:"-" dynamodbav:"refresh_token_hash"` // SHA-256, never exposed
	Active           bool       `json:"active" dynamodbav:"active"`
	LastActiveAt     time.Time  `json:"last_active_at" dynamodbav:"last_active_at"`
	CreatedAt        time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" dynamodbav:"updated_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty" dynamodbav:"revoked_at,omitempty"`
}
