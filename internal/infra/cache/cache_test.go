package cache

import (
	"testing"
	"time"

	"github.com/sifan077/linkpay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	c, err := New(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_SetAndGet(t *testing.T) {
	c, err := New(config.CacheConfig{Enabled: true, TTL: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	require.True(t, c.SetWithTTL("abc123", "link", 1, time.Minute))
	c.Wait()

	v, ok := c.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "link", v)
}
