// Package auth guards operator endpoints with a shared secret.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// CronSecretHeader carries the poll trigger secret.
const CronSecretHeader = "X-Cron-Secret"

// SharedSecret rejects requests whose header does not match secret. An empty
// secret rejects every request.
type SharedSecret struct {
	header string
	digest [sha256.Size]byte
	empty  bool
}

// NewSharedSecret constructs middleware checking header against secret.
func NewSharedSecret(header, secret string) *SharedSecret {
	secret = strings.TrimSpace(secret)
	return &SharedSecret{header: header, digest: sha256.Sum256([]byte(secret)), empty: secret == ""}
}

// Handle enforces the secret.
func (m *SharedSecret) Handle(c *fiber.Ctx) error {
	if m.empty {
		return apperrors.NewUnauthorized("poll trigger is not configured")
	}
	provided := c.Get(m.header)
	if provided == "" {
		return apperrors.NewUnauthorized("missing " + m.header + " header")
	}
	// Compare fixed-size digests.
	got := sha256.Sum256([]byte(provided))
	if subtle.ConstantTimeCompare(got[:], m.digest[:]) != 1 {
		return apperrors.NewUnauthorized("invalid secret")
	}
	return c.Next()
}
