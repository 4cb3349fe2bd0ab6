// Package mailbox polls an IMAP folder and feeds new messages into the
// ingestion pipeline.
package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/correlation"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/identity"
	"github.com/Skynetiks/skydesk/internal/ingestion"
	"github.com/Skynetiks/skydesk/internal/observability"
	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// Poll message results, used in Report and as metric labels.
const (
	resultCreated   = "created"
	resultAppended  = "appended"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
	resultDropped   = "dropped"
)

// Ingester processes one parsed email.
type Ingester interface {
	Ingest(ctx context.Context, source domain.Source, raw identity.RawEmail) (ingestion.Outcome, error)
}

// MessageIndex answers whether a Message-ID is already stored.
type MessageIndex interface {
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
}

// Report summarizes one poll cycle.
type Report struct {
	Scanned   int       `json:"scanned"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Created   int       `json:"created"`
	Appended  int       `json:"appended"`
	Rejected  int       `json:"rejected"`
	Dropped   int       `json:"dropped"`
	Watermark time.Time `json:"watermark"`
}

// Dependencies bundles the driver collaborators.
type Dependencies struct {
	IMAP      config.IMAPConfig
	Poller    config.PollerConfig
	Ingester  Ingester
	Messages  MessageIndex
	Lock      Lock
	Watermark Watermark
	Dial      ClientFactory
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Driver runs poll cycles.
type Driver struct {
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// NewDriver builds a driver. Dial defaults to DialIMAP.
func NewDriver(deps Dependencies) (*Driver, error) {
	switch {
	case deps.Ingester == nil:
		return nil, errors.New("mailbox: ingester is required")
	case deps.Messages == nil:
		return nil, errors.New("mailbox: message index is required")
	case deps.Lock == nil, deps.Watermark == nil:
		return nil, errors.New("mailbox: lock and watermark are required")
	}
	if deps.Dial == nil {
		deps.Dial = DialIMAP
	}
	if deps.Poller.BatchSize <= 0 {
		deps.Poller.BatchSize = 25
	}
	if deps.IMAP.Folder == "" {
		deps.IMAP.Folder = "INBOX"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{deps: deps, logger: logger.Named("mailbox"), now: time.Now}, nil
}

type candidate struct {
	uid  imap.UID
	date time.Time
}

// RunCycle performs one poll cycle under the cycle timeout and the poll lock.
func (d *Driver) RunCycle(ctx context.Context) (report Report, err error) {
	started := d.now()
	if timeout := d.deps.Poller.CycleTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrCycleInProgress):
			outcome = "locked"
		case err != nil:
			outcome = "error"
		}
		d.deps.Metrics.ObservePollCycle(outcome, d.now().Sub(started))
	}()

	release, err := d.deps.Lock.Acquire(ctx, d.lockTTL())
	if err != nil {
		return report, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			d.logger.Warn("release poll lock", zap.Error(rerr))
		}
	}()

	watermark, err := d.loadWatermark(ctx)
	if err != nil {
		return report, err
	}
	report.Watermark = watermark

	client, err := d.deps.Dial(d.deps.IMAP)
	if err != nil {
		return report, apperrors.NewMailboxUnavailable(fmt.Errorf("imap connect: %w", err))
	}
	defer d.closeClient(client)

	if err := client.Login(d.deps.IMAP.Username, d.deps.IMAP.Password).Wait(); err != nil {
		return report, apperrors.NewMailboxUnavailable(fmt.Errorf("imap auth: %w", err))
	}
	if _, err := client.Select(d.deps.IMAP.Folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return report, apperrors.NewMailboxUnavailable(fmt.Errorf("imap select %s: %w", d.deps.IMAP.Folder, err))
	}

	candidates, err := d.candidates(client, watermark)
	if err != nil {
		return report, err
	}
	report.Scanned = len(candidates)
	if len(candidates) > d.deps.Poller.BatchSize {
		report.Dropped = len(candidates) - d.deps.Poller.BatchSize
		d.logger.Warn("batch ceiling reached; older messages fall behind the watermark",
			zap.Int("candidates", len(candidates)),
			zap.Int("batch_size", d.deps.Poller.BatchSize))
		for i := 0; i < report.Dropped; i++ {
			d.deps.Metrics.RecordPollMessage(resultDropped)
		}
		candidates = candidates[:d.deps.Poller.BatchSize]
	}

	if len(candidates) > 0 {
		if err := d.processBatch(ctx, client, candidates, &report); err != nil {
			return report, err
		}
		newest := candidates[0].date
		if newest.After(watermark) {
			if err := d.deps.Watermark.Save(ctx, newest); err != nil {
				return report, err
			}
			report.Watermark = newest
		}
	}

	d.logger.Info("poll cycle finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Time("watermark", report.Watermark))
	return report, nil
}

func (d *Driver) lockTTL() time.Duration {
	if d.deps.Poller.CycleTimeout > 0 {
		return d.deps.Poller.CycleTimeout
	}
	return time.Minute
}

func (d *Driver) loadWatermark(ctx context.Context) (time.Time, error) {
	t, ok, err := d.deps.Watermark.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return d.now().Add(-d.deps.Poller.InitialLookback), nil
	}
	return t, nil
}

// candidates lists messages at or after watermark, newest first. SEARCH SINCE
// has day granularity, so INTERNALDATE is compared afterwards. INTERNALDATE
// has second granularity, so the watermark second is scanned again and the
// Message-ID precheck skips what was already stored.
func (d *Driver) candidates(client imapClient, watermark time.Time) ([]candidate, error) {
	since := watermark.UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	data, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	bufs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{UID: true, InternalDate: true}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch dates: %w", err)
	}
	var out []candidate
	for _, buf := range bufs {
		if !buf.InternalDate.Before(watermark) {
			out = append(out, candidate{uid: buf.UID, date: buf.InternalDate})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].date.After(out[j].date) })
	return out, nil
}

func (d *Driver) processBatch(ctx context.Context, client imapClient, batch []candidate, report *Report) error {
	uids := make([]imap.UID, len(batch))
	for i, c := range batch {
		uids[i] = c.uid
	}
	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return fmt.Errorf("imap fetch bodies: %w", err)
	}
	bodies := make(map[imap.UID][]byte, len(bufs))
	for _, buf := range bufs {
		bodies[buf.UID] = buf.FindBodySection(section)
	}

	for _, c := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := d.processOne(ctx, c, bodies[c.uid])
		d.deps.Metrics.RecordPollMessage(result)
		switch result {
		case resultSkipped, resultDuplicate:
			report.Skipped++
		case resultFailed:
			report.Failed++
		case resultCreated:
			report.Processed++
			report.Created++
		case resultAppended:
			report.Processed++
			report.Appended++
		case resultRejected:
			report.Processed++
			report.Rejected++
		}
	}
	return nil
}

// processOne ingests a single message. Errors are logged and reported as a
// result so the rest of the batch continues.
func (d *Driver) processOne(ctx context.Context, c candidate, body []byte) string {
	logger := d.logger.With(zap.Uint32("uid", uint32(c.uid)))
	if body == nil {
		logger.Warn("message body missing from fetch")
		return resultFailed
	}
	raw, err := identity.ParseMIME(bytes.NewReader(body))
	if err != nil {
		logger.Warn("parse message", zap.Error(err))
		return resultFailed
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = c.date
	}

	if id := identity.HeaderValue(raw.Headers, identity.HeaderMessageID); id != "" {
		seen, err := d.alreadyStored(ctx, id)
		if err != nil {
			logger.Warn("message-id precheck", zap.Error(err))
			return resultFailed
		}
		if seen {
			logger.Debug("already ingested", zap.String("message_id", id))
			return resultSkipped
		}
	}

	// The cycle deadline is checked between messages, never inside one.
	out, err := d.deps.Ingester.Ingest(context.WithoutCancel(ctx), domain.SourceMailbox, raw)
	if err != nil {
		logger.Warn("ingest message", zap.String("message_id", out.Envelope.MessageID), zap.Error(err))
		return resultFailed
	}
	switch out.State {
	case ingestion.StateCreated:
		return resultCreated
	case ingestion.StateAppended:
		return resultAppended
	case ingestion.StateRejected:
		return resultRejected
	default:
		return resultDuplicate
	}
}

func (d *Driver) alreadyStored(ctx context.Context, id string) (bool, error) {
	for _, form := range correlation.MessageIDForms(id) {
		ok, err := d.deps.Messages.ExistsByMessageID(ctx, form)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// closeClient logs out and closes the connection. Both are attempted on every
// path out of RunCycle.
func (d *Driver) closeClient(client imapClient) {
	if err := client.Logout().Wait(); err != nil {
		d.logger.Debug("imap logout", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		d.logger.Debug("imap close", zap.Error(err))
	}
}
