package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	MAX_TIMER_DURATION time.Duration = time.Second * 2

	RAPID_EVENT_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 250
	RAPID_EVENT_MAX_TIMER_DURATION time.Duration = time.Second
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgressUpdate(uuid.UUID) error
		BroadcastDownloadRemoved(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityService listens for download events and relays them to the
	// broadcaster. Bursts of events for the same job are debounced, with a
	// max timer ensuring a steady stream of events is still relayed.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, eventBus event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       eventBus,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.DOWNLOAD_UPDATE, event.DOWNLOAD_COMPLETE, event.DOWNLOAD_PROGRESS, event.DOWNLOAD_REMOVED)

	log.Emit(logger.NEW, "Activity service started\n")
	defer service.stopAllTimers()
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	switch ev.Event {
	case event.DOWNLOAD_UPDATE, event.DOWNLOAD_COMPLETE:
		// Both events describe a change to the job as a whole, so share a key
		// so that a completion supersedes a pending update.
		service.scheduleEventBroadcast(eventKey{id: resourceID, ev: event.DOWNLOAD_UPDATE}, service.BroadcastDownloadUpdate)
	case event.DOWNLOAD_PROGRESS:
		service.scheduleRapidEventBroadcast(eventKey{id: resourceID, ev: ev.Event}, service.BroadcastDownloadProgressUpdate)
	case event.DOWNLOAD_REMOVED:
		service.cancelBroadcasts(resourceID)
		return service.BroadcastDownloadRemoved(resourceID)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.scheduleBroadcastWithTimings(resourceKey, handler, DEBOUNCE_DURATION, MAX_TIMER_DURATION)
}

func (service *activityService) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.scheduleBroadcastWithTimings(resourceKey, handler, RAPID_EVENT_DEBOUNCE_DURATION, RAPID_EVENT_MAX_TIMER_DURATION)
}

func (service *activityService) scheduleBroadcastWithTimings(resourceKey eventKey, handler broadcastHandler, debounceTime time.Duration, maxTime time.Duration) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(maxTime, broadcaster)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	fired := service.clearTimers(resourceKey)
	service.Unlock()

	// Both timers may fire; only the first to acquire the lock broadcasts.
	if !fired {
		return
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.WARNING, "Broadcast of %s for %s failed: %v\n", resourceKey.ev, resourceKey.id, err)
	}
}

// cancelBroadcasts drops any pending broadcasts for the job; used once a job
// has been removed, as there is nothing left to describe.
func (service *activityService) cancelBroadcasts(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	for _, ev := range []event.Event{event.DOWNLOAD_UPDATE, event.DOWNLOAD_PROGRESS} {
		service.clearTimers(eventKey{id: id, ev: ev})
	}
}

func (service *activityService) clearTimers(resourceKey eventKey) bool {
	found := false
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
		found = true
	}

	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
		found = true
	}

	return found
}

func (service *activityService) stopAllTimers() {
	service.Lock()
	defer service.Unlock()

	for key := range service.debounceTimers {
		service.clearTimers(key)
	}
	for key := range service.maxTimers {
		service.clearTimers(key)
	}
}
