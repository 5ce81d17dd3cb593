package certificate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	gen := NewGenerator("studio-secret")

	payload := gen.payload("art-42", 0)
	assert.True(t, strings.HasPrefix(payload, "posterly:cert:art-42:1:"))
	assert.True(t, gen.Verify(payload))
}

func TestVerifyRejectsTampering(t *testing.T) {
	gen := NewGenerator("studio-secret")
	payload := gen.payload("art-42", 4)

	// Claiming a different edition number invalidates the signature.
	forged := strings.Replace(payload, ":5:", ":1:", 1)
	assert.False(t, gen.Verify(forged))

	assert.False(t, gen.Verify("posterly:cert:art-42:5"))
	assert.False(t, gen.Verify(""))

	// A generator with a different secret cannot validate the payload.
	other := NewGenerator("rotated-secret")
	assert.False(t, other.Verify(payload))
}

func TestCertificateEncodesAsQR(t *testing.T) {
	gen := NewGenerator("studio-secret")

	png, err := gen.Certificate("art-42", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}
