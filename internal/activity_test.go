package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	sync.Mutex
	calls []string
}

func (b *recordingBroadcaster) record(kind string) error {
	b.Lock()
	defer b.Unlock()
	b.calls = append(b.calls, kind)
	return nil
}

func (b *recordingBroadcaster) BroadcastDownloadUpdate(uuid.UUID) error {
	return b.record("update")
}

func (b *recordingBroadcaster) BroadcastDownloadProgressUpdate(uuid.UUID) error {
	return b.record("progress")
}

func (b *recordingBroadcaster) BroadcastDownloadRemoved(uuid.UUID) error {
	return b.record("removed")
}

func (b *recordingBroadcaster) Calls() []string {
	b.Lock()
	defer b.Unlock()
	return append([]string(nil), b.calls...)
}

func newTestActivityService() (*activityService, *recordingBroadcaster, event.EventCoordinator) {
	b := &recordingBroadcaster{}
	bus := event.New()
	return newActivityService(b, bus), b, bus
}

func handle(t *testing.T, service *activityService, ev event.Event, id uuid.UUID) {
	require.NoError(t, service.handleEvent(event.HandlerEvent{Event: ev, Payload: id}))
}

func Test_Activity_CoalescesProgressBursts(t *testing.T) {
	service, b, _ := newTestActivityService()
	defer service.stopAllTimers()

	id := uuid.New()
	for i := 0; i < 50; i++ {
		handle(t, service, event.DOWNLOAD_PROGRESS, id)
	}

	require.Eventually(t, func() bool { return len(b.Calls()) == 1 }, 2*RAPID_EVENT_MAX_TIMER_DURATION, 10*time.Millisecond)

	// Neither timer may fire a second broadcast for the same burst.
	time.Sleep(RAPID_EVENT_MAX_TIMER_DURATION + 100*time.Millisecond)
	assert.Equal(t, []string{"progress"}, b.Calls())
}

func Test_Activity_MaxTimerBoundsDebounce(t *testing.T) {
	service, b, _ := newTestActivityService()
	defer service.stopAllTimers()

	id := uuid.New()
	stop := time.Now().Add(RAPID_EVENT_MAX_TIMER_DURATION + 200*time.Millisecond)
	for time.Now().Before(stop) {
		handle(t, service, event.DOWNLOAD_PROGRESS, id)
		time.Sleep(RAPID_EVENT_DEBOUNCE_DURATION / 5)
	}

	// A steady stream keeps resetting the debounce; the max timer must
	// still have let one broadcast through.
	assert.NotEmpty(t, b.Calls())
}

func Test_Activity_UpdateAndCompleteShareKey(t *testing.T) {
	service, b, _ := newTestActivityService()
	defer service.stopAllTimers()

	id := uuid.New()
	handle(t, service, event.DOWNLOAD_UPDATE, id)
	handle(t, service, event.DOWNLOAD_COMPLETE, id)

	require.Eventually(t, func() bool { return len(b.Calls()) == 1 }, 2*MAX_TIMER_DURATION, 10*time.Millisecond)
	time.Sleep(DEBOUNCE_DURATION + 100*time.Millisecond)
	assert.Equal(t, []string{"update"}, b.Calls())
}

func Test_Activity_RemovedCancelsPendingBroadcasts(t *testing.T) {
	service, b, _ := newTestActivityService()
	defer service.stopAllTimers()

	id := uuid.New()
	other := uuid.New()
	handle(t, service, event.DOWNLOAD_PROGRESS, id)
	handle(t, service, event.DOWNLOAD_UPDATE, id)
	handle(t, service, event.DOWNLOAD_PROGRESS, other)
	handle(t, service, event.DOWNLOAD_REMOVED, id)

	assert.Equal(t, []string{"removed"}, b.Calls(), "removal is broadcast immediately")

	time.Sleep(DEBOUNCE_DURATION + 200*time.Millisecond)
	assert.Equal(t, []string{"removed", "progress"}, b.Calls(), "only the unrelated job may still broadcast")
}

func Test_Activity_RejectsIllegalPayload(t *testing.T) {
	service, _, _ := newTestActivityService()
	assert.Error(t, service.handleEvent(event.HandlerEvent{Event: event.DOWNLOAD_UPDATE, Payload: "not-a-uuid"}))
}

func Test_Activity_RelaysBusEvents(t *testing.T) {
	service, b, bus := newTestActivityService()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, service.Run(ctx))
	}()

	// The handler channel is registered by Run; keep dispatching until the
	// service is listening.
	id := uuid.New()
	require.Eventually(t, func() bool {
		bus.Dispatch(event.DOWNLOAD_REMOVED, id)
		return len(b.Calls()) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "removed", b.Calls()[0])
}
