package http

import (
	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/application/pairing"
	jwtinfra "github.com/claraverse/pairing-api/internal/infrastructure/jwt"
	"github.com/claraverse/pairing-api/internal/infrastructure/sns"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	PairingStore pairing.Store
	DeviceRepo   device.Repo
	AuditLog     pairing.AuditLog
	Events       sns.EventPublisher
	JWTProvider  *jwtinfra.Provider
}
