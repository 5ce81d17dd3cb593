package certificate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// Generator renders the QR certificate of authenticity stamped on every
// committed edition. The payload carries an HMAC so a scanned certificate can
// be verified without a database lookup.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

func (g *Generator) payload(artifactID string, editionNumber int) string {
	body := fmt.Sprintf("posterly:cert:%s:%d", artifactID, editionNumber+1)
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(body))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return body + ":" + sig
}

// Certificate encodes the signed payload as a PNG QR code.
func (g *Generator) Certificate(artifactID string, editionNumber int) ([]byte, error) {
	return qrcode.Encode(g.payload(artifactID, editionNumber), qrcode.Medium, 256)
}

// Verify checks a scanned certificate payload against the signing secret.
func (g *Generator) Verify(payload string) bool {
	for i := len(payload) - 1; i >= 0; i-- {
		if payload[i] == ':' {
			body, sig := payload[:i], payload[i+1:]
			mac := hmac.New(sha256.New, g.secret)
			mac.Write([]byte(body))
			expected := base64.URLEncoding.EncodeToString(mac.Sum(nil))
			return hmac.Equal([]byte(sig), []byte(expected))
		}
	}
	return false
}
