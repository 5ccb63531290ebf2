package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/logger"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestMulti_CollectsErrors(t *testing.T) {
	rec := &Recorder{}
	m := Multi{failingSink{}, rec}

	err := m.Publish(context.Background(), Event{Type: EventEscrowCreated})
	require.Error(t, err)
	assert.Equal(t, []string{EventEscrowCreated}, rec.Types())
}

func TestDispatcher_EmitIsBestEffort(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(Multi{failingSink{}, rec}, rec, rec, logger.Discard())

	escrowID := uuid.New()
	d.Emit(Event{Type: EventMilestoneReleased, EscrowID: escrowID, OccurredAt: time.Now()}, "Этап выплачен")
	d.Alert(Alert{Code: "TIMER_STUCK", EscrowID: escrowID, Message: "автовыплата не проходит"})
	d.Wait()

	assert.Equal(t, []string{EventMilestoneReleased}, rec.Types())
	assert.Equal(t, []string{"Этап выплачен"}, rec.Lines())
	require.Len(t, rec.Alerts(), 1)
	assert.Equal(t, "TIMER_STUCK", rec.Alerts()[0].Code)
}

func TestDispatcher_NilSinks(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, logger.Discard())
	d.Emit(Event{Type: EventEscrowCreated}, "text")
	d.Wait()
}
