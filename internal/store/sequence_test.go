package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceTokenRoundTrip(t *testing.T) {
	tok := SequenceToken{Seq: 42}
	factory := SequenceTokenFactory{}

	decoded, err := factory.Decode(tok.Bytes())
	require.NoError(t, err)
	assert.True(t, decoded.Equal(tok))
}

func TestSequenceTokenFactoryZeroToken(t *testing.T) {
	factory := SequenceTokenFactory{}
	zero := factory.ZeroToken()
	assert.True(t, zero.Equal(SequenceToken{Seq: 0}))

	decoded, err := factory.Decode(nil)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(SequenceToken{}))
}

func TestSequenceTokenFactoryRejectsBadLength(t *testing.T) {
	factory := SequenceTokenFactory{}
	_, err := factory.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}
