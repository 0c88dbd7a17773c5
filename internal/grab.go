package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/api"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/internal/reaper"
	"github.com/hbomb79/Grab/internal/release"
	"github.com/hbomb79/Grab/internal/storage"
	"github.com/hbomb79/Grab/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		broadcaster
	}

	DownloadService interface {
		RunnableService
		Submit(download.Request) (uuid.UUID, error)
		Job(uuid.UUID) (download.Job, error)
		Jobs() []download.Job
		Result(uuid.UUID) (*download.Result, error)
	}
)

// grabImpl represents the top-level object for the server, and is responsible
// for initialising the storage area, services and event handling.
type grabImpl struct {
	eventBus event.EventCoordinator
	config   GrabConfig

	registry  *download.Registry
	storage   *storage.Area
	extractor extract.Extractor
	releaser  *release.Releaser

	downloadService DownloadService
	reaper          RunnableService
	restGateway     RestGateway
	activityService RunnableService
}

// New constructs every service Grab runs. The storage area is prepared
// (emptied) as part of this.
func New(config GrabConfig) (*grabImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping Grab services using config: %#v\n", config)
	grab := &grabImpl{
		eventBus: event.New(),
		config:   config,
		registry: download.NewRegistry(),
	}

	area, err := storage.New(config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storage area: %w", err)
	}
	grab.storage = area

	grab.extractor = extract.NewYtDlp(config.Extractor, extract.NewAudioTranscoder(config.Extractor))
	grab.releaser = release.New(config.Release, grab.registry, grab.storage, grab.eventBus)

	if serv, err := download.New(config.Scheduler, grab.registry, grab.extractor, grab.storage, grab.eventBus); err == nil {
		grab.downloadService = serv
	} else {
		return nil, fmt.Errorf("failed to construct download service: %w", err)
	}

	if r, err := reaper.New(config.Reaper, grab.storage); err == nil {
		grab.reaper = r
	} else {
		return nil, fmt.Errorf("failed to construct reaper: %w", err)
	}

	grab.restGateway = api.NewRestGateway(&config.RestConfig, grab.extractor, grab.downloadService, grab.releaser)
	grab.activityService = newActivityService(grab.restGateway, grab.eventBus)

	return grab, nil
}

// Run will start all of Grabs services. This function will not return until
// Grab is stopped, either by cancelling the provided context or due to an
// error from which a service cannot recover.
func (grab *grabImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var crashErr error
	crashOnce := &sync.Once{}
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		crashOnce.Do(func() { crashErr = fmt.Errorf("%s: %w", label, err) })
		cancel()
	}

	wg := &sync.WaitGroup{}
	grab.spawnAsyncService(ctx, wg, grab.downloadService, "download-service", crashHandler)
	grab.spawnAsyncService(ctx, wg, grab.reaper, "reaper", crashHandler)
	grab.spawnAsyncService(ctx, wg, grab.activityService, "activity-service", crashHandler)
	grab.spawnAsyncService(ctx, wg, grab.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Grab services spawned!\n")

	wg.Wait()
	grab.releaser.Stop()

	return crashErr
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Grab service waitgroup is updated correctly
func (grab *grabImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
