package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Skynetiks/skydesk/internal/api/http/handlers"
	"github.com/Skynetiks/skydesk/internal/auth"
	"github.com/Skynetiks/skydesk/internal/confirmation"
	"github.com/Skynetiks/skydesk/internal/correlation"
	"github.com/Skynetiks/skydesk/internal/dedup"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/identity"
	"github.com/Skynetiks/skydesk/internal/ingestion"
	"github.com/Skynetiks/skydesk/internal/mailbox"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/repository"
)

const testSecret = "cron-secret"

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Outbound
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Outbound) (mailer.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.err != nil {
		return mailer.Receipt{}, s.err
	}
	return mailer.Receipt{MessageID: identity.StripBrackets(msg.Headers["Message-ID"])}, nil
}

func (s *recordingSender) last() mailer.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type stubRunner struct {
	report mailbox.Report
	err    error
}

func (r stubRunner) RunCycle(context.Context) (mailbox.Report, error) {
	return r.report, r.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app    *fiber.App
	store  *repository.MemoryStore
	sender *recordingSender
}

type serverOptions struct {
	runner           handlers.CycleRunner
	registeredOnly   bool
	dependencyFailed bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	system := store.AddStaff(domain.StaffMember{Name: "System", Email: "system@desk.test", Role: domain.StaffRoleSystem, Active: true})
	sender := &recordingSender{}

	pipeline, err := ingestion.New(ingestion.Dependencies{
		Tickets:               store.Tickets(),
		Messages:              store.Messages(),
		Clients:               store.Clients(),
		Correlator:            correlation.New(store.Tickets(), store.Messages()),
		Registry:              confirmation.NewRegistry("desk.test", store.Tickets()),
		Sender:                sender,
		Claimer:               dedup.NewLocalClaimer(0),
		Dispatcher:            events.NewInMemoryDispatcher(logger),
		Logger:                logger,
		SystemUserID:          system.ID,
		RegisteredClientsOnly: opts.registeredOnly,
	})
	require.NoError(t, err)

	var dbErr error
	if opts.dependencyFailed {
		dbErr = errors.New("connection refused")
	}

	app := fiber.New()
	RegisterMiddlewares(app, logger, nil, 0)
	RegisterRoutes(app, RouteConfig{
		Health:     handlers.NewHealthHandler("skydesk", "test", map[string]handlers.Pinger{"postgres": stubPinger{err: dbErr}}),
		Inbound:    handlers.NewInboundHandler(pipeline),
		Poll:       handlers.NewPollHandler(opts.runner),
		PollSecret: auth.NewSharedSecret(auth.CronSecretHeader, testSecret),
	})
	return &testServer{app: app, store: store, sender: sender}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func TestInboundEmailCreatesTicketThenAppendsReply(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	status, body := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", map[string]any{
		"from":    "Jane <jane@x.com>",
		"subject": "Help",
		"text":    "Issue here",
	}, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["isReply"])
	ticketID, _ := body["ticketId"].(string)
	require.NotEmpty(t, ticketID)

	confirmationID := s.sender.last().Headers["Message-ID"]
	require.NotEmpty(t, confirmationID)

	status, body = s.do(t, fiber.MethodPost, "/api/v1/inbound/email", map[string]any{
		"from":    "jane@x.com",
		"subject": "Re: Help",
		"text":    "More detail",
		"headers": map[string]string{"In-Reply-To": "<" + identity.StripBrackets(confirmationID) + ">"},
	}, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["isReply"])
	assert.Equal(t, ticketID, body["ticketId"])
	assert.Equal(t, 1, s.store.TicketCount())
}

func TestInboundEmailRedeliveryIsDuplicate(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	payload := map[string]any{
		"from":    "jane@x.com",
		"subject": "Help",
		"text":    "Issue here",
		"headers": map[string]string{"Message-ID": "<once@x.com>"},
	}

	_, first := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", payload, nil)
	status, second := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", payload, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, first["ticketId"], second["ticketId"])
	assert.Equal(t, 1, s.store.MessageCount("<once@x.com>"))
}

func TestInboundEmailRejectedSender(t *testing.T) {
	s := newTestServer(t, serverOptions{registeredOnly: true})

	status, body := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", map[string]any{
		"from": "stranger@y.com", "subject": "Hi", "text": "Hello",
	}, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true, "rejected": true, "isReply": false}, body)
	assert.Equal(t, 0, s.store.TicketCount())
}

func TestInboundEmailValidation(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	status, body := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", map[string]any{"from": "jane@x.com"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"subject", "text"}, details["fields"])
}

func TestInboundEmailSendFailure(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.sender.err = &smtp.SMTPError{Code: 535, Message: "authentication failed"}

	status, body := s.do(t, fiber.MethodPost, "/api/v1/inbound/email", map[string]any{
		"from": "jane@x.com", "subject": "Help", "text": "Issue here",
	}, nil)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "SEND_FAILED", body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, mailer.KindAuth, details["kind"])
	assert.NotEmpty(t, details["hint"])
	assert.Equal(t, 0, s.store.TicketCount())
}

func TestPollTrigger(t *testing.T) {
	cases := map[string]struct {
		runner  handlers.CycleRunner
		headers map[string]string
		status  int
		code    string
	}{
		"missing secret": {
			runner: stubRunner{},
			status: fiber.StatusUnauthorized,
			code:   "UNAUTHORIZED",
		},
		"wrong secret": {
			runner:  stubRunner{},
			headers: map[string]string{auth.CronSecretHeader: "nope"},
			status:  fiber.StatusUnauthorized,
			code:    "UNAUTHORIZED",
		},
		"cycle running": {
			runner:  stubRunner{err: mailbox.ErrCycleInProgress},
			headers: map[string]string{auth.CronSecretHeader: testSecret},
			status:  fiber.StatusConflict,
			code:    "CONFLICT",
		},
		"no mailbox": {
			headers: map[string]string{auth.CronSecretHeader: testSecret},
			status:  fiber.StatusServiceUnavailable,
			code:    "MAILBOX_UNAVAILABLE",
		},
		"ok": {
			runner:  stubRunner{report: mailbox.Report{Scanned: 3, Processed: 2, Created: 1}},
			headers: map[string]string{auth.CronSecretHeader: testSecret},
			status:  fiber.StatusOK,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, serverOptions{runner: tc.runner})
			status, body := s.do(t, fiber.MethodPost, "/api/v1/inbound/poll", nil, tc.headers)
			assert.Equal(t, tc.status, status)
			if tc.code != "" {
				assert.Equal(t, tc.code, body["code"])
				return
			}
			assert.Equal(t, true, body["success"])
			report, ok := body["report"].(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, 3, report["scanned"])
			assert.EqualValues(t, 1, report["created"])
		})
	}
}

func TestPollTriggerAcceptsGet(t *testing.T) {
	s := newTestServer(t, serverOptions{runner: stubRunner{}})
	status, _ := s.do(t, fiber.MethodGet, "/api/v1/inbound/poll", nil, map[string]string{auth.CronSecretHeader: testSecret})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	status, body := s.do(t, fiber.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, fiber.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	failing := newTestServer(t, serverOptions{dependencyFailed: true})
	status, body = failing.do(t, fiber.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", body["code"])
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	status, body := s.do(t, fiber.MethodGet, "/nope", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.NotEmpty(t, body["error"])
}
