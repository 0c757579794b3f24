package secure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamvault/teamvault/internal/secure"
)

func TestKeyBufferRoundTrip(t *testing.T) {
	key := []byte("AGE-SECRET-KEY-1TESTTESTTESTTEST")
	buf := secure.NewKeyBuffer(key)
	defer buf.Destroy()

	locked, err := buf.Open()
	require.NoError(t, err)
	defer locked.Destroy()

	assert.Equal(t, "AGE-SECRET-KEY-1TESTTESTTESTTEST", string(locked.Bytes()))
}

func TestKeyBufferString(t *testing.T) {
	buf := secure.NewKeyBuffer([]byte("key material"))
	defer buf.Destroy()

	s, err := buf.String()
	require.NoError(t, err)
	assert.Equal(t, "key material", s)
}

func TestKeyBufferDestroyIsIdempotent(t *testing.T) {
	buf := secure.NewKeyBuffer([]byte("gone"))

	buf.Destroy()
	buf.Destroy()

	locked, err := buf.Open()
	require.NoError(t, err)
	defer locked.Destroy()
	assert.Empty(t, locked.Bytes())
}
