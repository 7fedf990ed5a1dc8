package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New(true, 1, time.Minute)
	c.Set("intent:hello", []byte(`{"action":"help"}`))

	got, ok := c.Get("intent:hello")
	assert.True(t, ok)
	assert.Equal(t, `{"action":"help"}`, string(got))

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_DisabledNeverStores(t *testing.T) {
	for _, c := range []Cache{New(false, 1, time.Minute), New(true, 0, time.Minute), New(true, 1, 0)} {
		c.Set("k", []byte("v"))
		_, ok := c.Get("k")
		assert.False(t, ok)
	}
}
