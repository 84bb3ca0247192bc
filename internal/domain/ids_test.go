package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "lowercase with prefix", input: "0x00000000000000000000000000000000000000a1"},
		{name: "uppercase hex digits", input: "0x00000000000000000000000000000000000000A1"},
		{name: "no prefix", input: "00000000000000000000000000000000000000a1"},
		{name: "too short", input: "0x1234", wantErr: true},
		{name: "bad hex", input: "0x0000000000000000000000000000000000000zz1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0x00000000000000000000000000000000000000a1", addr.String())
		})
	}
}

func TestZeroAddressIsInvalidUser(t *testing.T) {
	assert.True(t, ZeroAddress.IsZero())
	addr, err := ParseAddress("0x000000000000000000000000000000000000000a")
	require.NoError(t, err)
	assert.False(t, addr.IsZero())
}

func TestIsSupportedChain(t *testing.T) {
	assert.True(t, IsSupportedChain(ChainEthereum))
	assert.True(t, IsSupportedChain(ChainArbitrum))
	assert.False(t, IsSupportedChain(ChainId(999)))
}

func TestTokenRefKey(t *testing.T) {
	addr, err := ParseAddress("0x000000000000000000000000000000000000000a")
	require.NoError(t, err)
	a := TokenRef{Chain: ChainEthereum, Address: addr}
	b := TokenRef{Chain: ChainEthereum, Address: addr}
	assert.Equal(t, a.Key(), b.Key())

	c := TokenRef{Chain: ChainPolygon, Address: addr}
	assert.NotEqual(t, a.Key(), c.Key())
}
