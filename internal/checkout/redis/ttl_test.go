package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDFromExpiredKey(t *testing.T) {
	assert.Equal(t, "conf_123", SessionIDFromExpiredKey("checkout_session:conf_123"))
	assert.Equal(t, "", SessionIDFromExpiredKey("other_key:conf_123"))
	assert.Equal(t, "", SessionIDFromExpiredKey(""))
}
