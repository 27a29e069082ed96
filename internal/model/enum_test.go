package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeFiProtocol(t *testing.T) {
	for _, p := range []DeFiProtocol{ProtocolKamino, ProtocolMarginFi, ProtocolSolend} {
		parsed, err := ParseDeFiProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParseDeFiProtocol("aave")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
	assert.False(t, DeFiProtocol(3).Valid())
}

func TestRebalanceActionJSON(t *testing.T) {
	var got struct {
		Action RebalanceAction `json:"action"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"action":"emergency_unwind"}`), &got))
	assert.Equal(t, ActionEmergencyUnwind, got.Action)

	err := json.Unmarshal([]byte(`{"action":"yolo"}`), &got)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestPositionStatusMarshalRejectsUnknown(t *testing.T) {
	_, err := PositionStatus(9).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownStatus)

	out, err := json.Marshal(StatusCritical)
	require.NoError(t, err)
	assert.Equal(t, `"critical"`, string(out))
}

func TestAddressRoundTrip(t *testing.T) {
	var a Address
	for i := range a {
		a[i] = byte(i + 1)
	}
	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseAddress("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseSignature(a.String())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
