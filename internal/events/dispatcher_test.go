package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher(zaptest.NewLogger(t))
	var calls []string
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketMessageAdded, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second:t1"}, calls)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))
	long := make([]rune, 250)
	for i := range long {
		long[i] = 'é'
	}
	got := []rune(Preview(string(long)))
	assert.Len(t, got, 203)
}
