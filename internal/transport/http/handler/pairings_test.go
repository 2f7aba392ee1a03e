package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/application/pairing"
	"github.com/claraverse/pairing-api/internal/domain"
	jwtinfra "github.com/claraverse/pairing-api/internal/infrastructure/jwt"
	"github.com/claraverse/pairing-api/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockPairingSvc struct{ mock.Mock }

func (m *mockPairingSvc) NewSession(ctx context.Context, info domain.DeviceInfo) (*pairing.CreateResult, error) {
	args := m.Called(ctx, info)
	if r, _ := args.Get(0).(*pairing.CreateResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockPairingSvc) Poll(ctx context.Context, deviceCode string) (*pairing.PollResult, error) {
	args := m.Called(ctx, deviceCode)
	if r, _ := args.Get(0).(*pairing.PollResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockPairingSvc) Approve(ctx context.Context, userCode, userID string) error {
	return m.Called(ctx, userCode, userID).Error(0)
}
func (m *mockPairingSvc) Deny(ctx context.Context, userCode, userID string) error {
	return m.Called(ctx, userCode, userID).Error(0)
}

type mockDeviceSvc struct{ mock.Mock }

func (m *mockDeviceSvc) IssueCredentials(ctx context.Context, userID string, info domain.DeviceInfo) (*device.TokenGrant, error) {
	args := m.Called(ctx, userID, info)
	if g, _ := args.Get(0).(*device.TokenGrant); g != nil {
		return g, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDeviceSvc) Refresh(ctx context.Context, refreshToken, deviceID string) (*device.TokenGrant, error) {
	args := m.Called(ctx, refreshToken, deviceID)
	if g, _ := args.Get(0).(*device.TokenGrant); g != nil {
		return g, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDeviceSvc) List(ctx context.Context, userID string) ([]domain.UserDevice, error) {
	args := m.Called(ctx, userID)
	if ds, _ := args.Get(0).([]domain.UserDevice); ds != nil {
		return ds, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDeviceSvc) Rename(ctx context.Context, userID, deviceID, name string) error {
	return m.Called(ctx, userID, deviceID, name).Error(0)
}
func (m *mockDeviceSvc) Revoke(ctx context.Context, userID, deviceID string) error {
	return m.Called(ctx, userID, deviceID).Error(0)
}

// --- helpers ---

func postJSON(t *testing.T, h http.HandlerFunc, path string, body interface{}, claims *jwtinfra.Claims) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	if claims != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.ClaimsKey, claims))
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

// --- tests ---

func TestStart(t *testing.T) {
	svc := new(mockPairingSvc)
	svc.On("NewSession", mock.Anything, domain.DeviceInfo{ClientID: "cli", Version: "1.0", Platform: "linux"}).
		Return(&pairing.CreateResult{
			DeviceCode: "dc", UserCode: "BCDF-2345",
			VerificationURI: "https://app/pair", ExpiresIn: 600, Interval: 5,
		}, nil)

	h := NewPairingHandler(svc, nil)
	rr := postJSON(t, h.Start, "/v1/pair/device",
		map[string]string{"client_id": "cli", "version": "1.0", "platform": "linux"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var res pairing.CreateResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "BCDF-2345", res.UserCode)
	assert.Equal(t, 5, res.Interval)
}

func TestStart_MissingClientID(t *testing.T) {
	h := NewPairingHandler(new(mockPairingSvc), nil)
	rr := postJSON(t, h.Start, "/v1/pair/device", map[string]string{"platform": "linux"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestToken_Pending(t *testing.T) {
	svc := new(mockPairingSvc)
	svc.On("Poll", mock.Anything, "dc").
		Return(&pairing.PollResult{State: pairing.PollPending, Interval: 5}, nil)

	h := NewPairingHandler(svc, nil)
	rr := postJSON(t, h.Token, "/v1/pair/token", map[string]string{"device_code": "dc"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var res TokenErrorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "authorization_pending", res.Error)
	assert.Equal(t, 5, res.Interval)
}

func TestToken_SlowDown(t *testing.T) {
	svc := new(mockPairingSvc)
	svc.On("Poll", mock.Anything, "dc").
		Return(&pairing.PollResult{State: pairing.PollSlowDown, Interval: 10}, nil)

	h := NewPairingHandler(svc, nil)
	rr := postJSON(t, h.Token, "/v1/pair/token", map[string]string{"device_code": "dc"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var res TokenErrorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "slow_down", res.Error)
	assert.Equal(t, 10, res.Interval)
}

func TestToken_Success(t *testing.T) {
	psvc := new(mockPairingSvc)
	dsvc := new(mockDeviceSvc)
	info := domain.DeviceInfo{ClientID: "cli", Platform: "darwin"}
	psvc.On("Poll", mock.Anything, "dc").
		Return(&pairing.PollResult{State: pairing.PollSuccess, BoundUserID: "u1", DeviceInfo: info}, nil)
	dsvc.On("IssueCredentials", mock.Anything, "u1", info).
		Return(&device.TokenGrant{AccessToken: "at", TokenType: "Bearer", RefreshToken: "rt", DeviceID: "d1", UserID: "u1"}, nil)

	h := NewPairingHandler(psvc, dsvc)
	rr := postJSON(t, h.Token, "/v1/pair/token", map[string]string{"device_code": "dc"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var grant device.TokenGrant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &grant))
	assert.Equal(t, "at", grant.AccessToken)
	assert.Equal(t, "rt", grant.RefreshToken)
	dsvc.AssertExpectations(t)
}

func TestToken_TerminalErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		oauth string
	}{
		{"unknown code", domain.ErrUnknownCode, "invalid_grant"},
		{"already consumed", domain.ErrAlreadyConsumed, "invalid_grant"},
		{"expired", domain.ErrExpiredCode, "expired_token"},
		{"denied", domain.ErrAccessDenied, "access_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockPairingSvc)
			svc.On("Poll", mock.Anything, "dc").Return(nil, tc.err)

			h := NewPairingHandler(svc, nil)
			rr := postJSON(t, h.Token, "/v1/pair/token", map[string]string{"device_code": "dc"}, nil)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			var res TokenErrorEnvelope
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
			assert.Equal(t, tc.oauth, res.Error)
		})
	}
}

func TestApprove(t *testing.T) {
	svc := new(mockPairingSvc)
	svc.On("Approve", mock.Anything, "BCDF-2345", "u1").Return(nil)

	h := NewPairingHandler(svc, nil)
	rr := postJSON(t, h.Approve, "/v1/pair/approve",
		map[string]string{"user_code": "BCDF-2345"}, &jwtinfra.Claims{UserID: "u1"})

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestApprove_Unauthenticated(t *testing.T) {
	h := NewPairingHandler(new(mockPairingSvc), nil)
	rr := postJSON(t, h.Approve, "/v1/pair/approve", map[string]string{"user_code": "BCDF-2345"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestApprove_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"bad format", domain.ErrInvalidFormat, http.StatusBadRequest},
		{"unknown", domain.ErrNotFound, http.StatusNotFound},
		{"already handled", domain.ErrAlreadyResolved, http.StatusConflict},
		{"throttled", domain.ErrTooManyAttempts, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockPairingSvc)
			svc.On("Approve", mock.Anything, "BCDF-2345", "u1").Return(tc.err)

			h := NewPairingHandler(svc, nil)
			rr := postJSON(t, h.Approve, "/v1/pair/approve",
				map[string]string{"user_code": "BCDF-2345"}, &jwtinfra.Claims{UserID: "u1"})

			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestDeny(t *testing.T) {
	svc := new(mockPairingSvc)
	svc.On("Deny", mock.Anything, "BCDF-2345", "u1").Return(nil)

	h := NewPairingHandler(svc, nil)
	rr := postJSON(t, h.Deny, "/v1/pair/deny",
		map[string]string{"user_code": "BCDF-2345"}, &jwtinfra.Claims{UserID: "u1"})

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}
