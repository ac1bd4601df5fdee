package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConnectRegistersConnectionWithoutRequiringAnOpenSocket(t *testing.T) {
	codec := &fakeCodec{nextCID: []byte{3, 1, 4}}
	cl := NewClient(DefaultConfig(), codec, nil)

	conn, err := cl.Connect("127.0.0.1:4433")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 1, cl.registry.len())
}

func TestClientConnectRejectsUnresolvableAddress(t *testing.T) {
	cl := NewClient(DefaultConfig(), &fakeCodec{nextCID: []byte{1}}, nil)
	_, err := cl.Connect("not even an address")
	require.Error(t, err)
}
