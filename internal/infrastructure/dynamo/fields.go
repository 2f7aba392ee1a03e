package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
// "session_status" avoids the reserved word STATUS.
const (
	fieldStatus           = "session_status"
	fieldBoundUserID      = "bound_user_id"
	fieldAuthorizedAt     = "authorized_at"
	fieldResolvedAt       = "resolved_at"
	fieldLastPolledAt     = "last_polled_at"
	fieldPollInterval     = "poll_interval"
	fieldEvictAt          = "evict_at"
	fieldName             = "name"
	fieldActive           = "active"
	fieldRevokedAt        = "revoked_at"
	fieldUpdatedAt        = "updated_at"
	fieldLastActiveAt     = "last_active_at"
	fieldRefreshTokenHash = "refresh_token_hash"
)
