package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceCode(t *testing.T) {
	a, err := NewDeviceCode()
	require.NoError(t, err)
	b, err := NewDeviceCode()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestNewRefreshToken(t *testing.T) {
	a, err := NewRefreshToken()
	require.NoError(t, err)
	b, err := NewRefreshToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("secret"), Hash("secret"))
	assert.NotEqual(t, Hash("secret"), Hash("secret2"))
	assert.Len(t, Hash("secret"), 64)
}
