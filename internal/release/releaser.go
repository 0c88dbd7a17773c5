// Package release removes a jobs artifacts, and the job itself, a short
// while after the client has retrieved its result.
package release

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/internal/metrics"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/hbomb79/Grab/pkg/sync"
)

var log = logger.Get("Releaser")

type (
	Config struct {
		Delay time.Duration `yaml:"delay" env:"RELEASE_DELAY" env-default:"15s"`
	}

	Storage interface {
		DeleteArtifacts(id string)
	}

	Registry interface {
		Has(id uuid.UUID) bool
		Remove(id uuid.UUID) bool
	}

	Releaser struct {
		config   Config
		registry Registry
		storage  Storage
		eventBus event.EventDispatcher
		timers   sync.TypedSyncMap[uuid.UUID, *time.Timer]
	}
)

func New(config Config, registry Registry, storage Storage, eventBus event.EventDispatcher) *Releaser {
	return &Releaser{config: config, registry: registry, storage: storage, eventBus: eventBus}
}

// Release schedules the removal of the job, and its artifacts, once the
// configured delay has elapsed. The delay gives the client time to finish
// streaming the result. This method never blocks.
//
// Releasing a job which is unknown, or which already has a release pending,
// does nothing; false is returned in both cases.
func (releaser *Releaser) Release(id uuid.UUID) bool {
	if !releaser.registry.Has(id) {
		return false
	}

	// The timer is armed only after it has been stored so that a release
	// can never fire before it is tracked.
	timer := time.AfterFunc(time.Duration(math.MaxInt64), func() { releaser.release(id) })
	if _, loaded := releaser.timers.LoadOrStore(id, timer); loaded {
		timer.Stop()
		return false
	}

	timer.Reset(releaser.config.Delay)
	log.Debugf("Release of job %s scheduled in %s\n", id, releaser.config.Delay)
	return true
}

// Pending returns true if a release is scheduled for the job.
func (releaser *Releaser) Pending(id uuid.UUID) bool {
	_, ok := releaser.timers.Load(id)
	return ok
}

// Stop cancels every pending release. Artifacts left behind are cleared
// when the storage area is next prepared.
func (releaser *Releaser) Stop() {
	cancelled := 0
	releaser.timers.Range(func(id uuid.UUID, timer *time.Timer) bool {
		if timer.Stop() {
			cancelled++
		}
		releaser.timers.Delete(id)
		return true
	})

	if cancelled > 0 {
		log.Emit(logger.STOP, "Cancelled %d pending release(s)\n", cancelled)
	}
}

func (releaser *Releaser) release(id uuid.UUID) {
	defer releaser.timers.Delete(id)

	releaser.storage.DeleteArtifacts(id.String())
	if !releaser.registry.Remove(id) {
		return
	}

	log.Emit(logger.REMOVE, "Released job %s\n", id)
	metrics.IncreaseReleasesMetric()
	releaser.eventBus.Dispatch(event.DOWNLOAD_REMOVED, id)
}
