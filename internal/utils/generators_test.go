package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCentsRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(8000), Cents(80.00))
	assert.Equal(t, int64(2995), Cents(29.95))
	assert.Equal(t, int64(1), Cents(0.005))
	assert.Equal(t, int64(0), Cents(0.004))
	assert.Equal(t, int64(0), Cents(0))
	assert.Equal(t, int64(-2995), Cents(-29.95))

	// The classic float trap: 19.99 must not truncate to 1998.
	assert.Equal(t, int64(1999), Cents(19.99))
}

func TestGeneratedIDsCarryTheirPrefix(t *testing.T) {
	conf := GenerateConfirmationID()
	assert.True(t, strings.HasPrefix(conf, "conf_"))

	ord := GenerateOrderID()
	assert.True(t, strings.HasPrefix(ord, "ord_"))

	assert.NotEqual(t, GenerateConfirmationID(), GenerateConfirmationID())
}
