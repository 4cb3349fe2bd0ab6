package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

func newApp(secret string) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperrors.ToDomainError(err).HTTPStatus).SendString(err.Error())
		},
	})
	app.Get("/poll", NewSharedSecret(CronSecretHeader, secret).Handle, func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	return app
}

func TestSharedSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		status int
	}{
		{"match", "s3cret", "s3cret", http.StatusOK},
		{"mismatch", "s3cret", "wrong", http.StatusUnauthorized},
		{"prefix", "s3cret", "s3cre", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured", "", "anything", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/poll", nil)
			if tc.header != "" {
				req.Header.Set(CronSecretHeader, tc.header)
			}
			resp, err := newApp(tc.secret).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
