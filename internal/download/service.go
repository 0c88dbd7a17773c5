package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/internal/metrics"
	"github.com/hbomb79/Grab/pkg/logger"
)

var (
	log = logger.Get("DownloadServ")

	ErrJobNotFound       = errors.New("no job found")
	ErrJobNotReady       = errors.New("job result not ready")
	ErrOutputMissing     = errors.New("no output produced")
	ErrInvalidRequest    = errors.New("invalid download request")
	ErrIllegalTransition = errors.New("illegal job status transition")

	unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)
)

const (
	bestRendition    = "best"
	bestVideoFormat  = "bestvideo+bestaudio/best"
	bestAudioFormat  = "bestaudio/best"
	videoMergeFormat = "mp4"
	fallbackName     = "download"
	maxDisplayName   = 200
)

type (
	Extractor interface {
		Describe(ctx context.Context, url string) (*extract.Info, error)
		Download(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error
	}

	Storage interface {
		Allocate(id string) string
		FindFinalOutput(id string) (string, bool)
		DeleteArtifacts(id string)
	}

	// downloadService admits download requests and executes them in the
	// background, never running more than the configured number of jobs
	// at once. Jobs which cannot start yet wait, in admission order, in
	// the queued status.
	downloadService struct {
		*sync.Mutex
		jobWg         *sync.WaitGroup
		config        Config
		registry      *Registry
		extractor     Extractor
		storage       Storage
		eventBus      event.EventCoordinator
		waiting       []uuid.UUID
		consumedSlots int

		queueChange chan bool
	}

	// progressRelay forwards progress reports from the extractor to the
	// job it was created for.
	progressRelay struct {
		service *downloadService
		jobID   uuid.UUID
	}
)

func New(config Config, registry *Registry, extractor Extractor, storage Storage, eventBus event.EventCoordinator) (*downloadService, error) {
	if config.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent downloads must be at least 1 (got %d)", config.MaxConcurrent)
	}

	return &downloadService{
		Mutex:       &sync.Mutex{},
		jobWg:       &sync.WaitGroup{},
		config:      config,
		registry:    registry,
		extractor:   extractor,
		storage:     storage,
		eventBus:    eventBus,
		waiting:     make([]uuid.UUID, 0),
		queueChange: make(chan bool, 1),
	}, nil
}

// Run is the main entry point for this service. This method will block
// until the provided context is cancelled.
// Note: when context is cancelled this method will not immediately return as it
// will wait for it's running jobs to conclude.
func (service *downloadService) Run(ctx context.Context) error {
	eventChannel := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(eventChannel, event.DOWNLOAD_REMOVED)

	service.startWaitingJobs(ctx)
	for {
		select {
		case <-service.queueChange:
			service.startWaitingJobs(ctx)
		case <-eventChannel:
			service.updateStatusMetrics()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for running downloads to conclude.\n")
			service.jobWg.Wait()
			return nil
		}
	}
}

// Submit admits a new download request, returning the ID of the job
// created for it. The job is queued, and will be started by the service
// once a slot is available; this method never blocks on the download.
func (service *downloadService) Submit(request Request) (uuid.UUID, error) {
	if strings.TrimSpace(request.URL) == "" {
		return uuid.Nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if window := request.Clip.Range(); window != nil && window.End != nil && *window.End <= window.Start {
		return uuid.Nil, fmt.Errorf("%w: clip end must be after clip start", ErrInvalidRequest)
	}

	id := uuid.New()
	if _, err := service.registry.Create(id, request); err != nil {
		return uuid.Nil, fmt.Errorf("failed to admit download: %w", err)
	}

	service.Lock()
	service.waiting = append(service.waiting, id)
	service.Unlock()

	log.Emit(logger.NEW, "Admitted download %s for %s\n", id, request.URL)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, id)
	service.updateStatusMetrics()
	service.notifyQueueChange()

	return id, nil
}

// Job returns a snapshot of the job with the given ID, or ErrJobNotFound.
func (service *downloadService) Job(id uuid.UUID) (Job, error) { return service.registry.Get(id) }

// Jobs returns a snapshot of every job known to the service.
func (service *downloadService) Jobs() []Job { return service.registry.All() }

// Result returns the result of a completed job. ErrJobNotReady is
// returned if the job exists but has not completed, and ErrOutputMissing
// if the output has since been removed from disk (e.g. by the reaper).
func (service *downloadService) Result(id uuid.UUID) (*Result, error) {
	job, err := service.registry.Get(id)
	if err != nil {
		return nil, err
	}

	if job.Status != COMPLETED || job.Result == nil {
		return nil, ErrJobNotReady
	}
	if _, err := os.Stat(job.Result.Path); err != nil {
		log.Warnf("Output of completed job %s is no longer available: %v\n", id, err)
		return nil, ErrOutputMissing
	}

	return job.Result, nil
}

// startWaitingJobs starts as many waiting jobs as the remaining slots allow, in
// the order they were admitted. A goroutine is spawned for each, which releases
// its slot when the job concludes (successfully or otherwise).
func (service *downloadService) startWaitingJobs(ctx context.Context) {
	service.Lock()
	defer service.Unlock()

	for len(service.waiting) > 0 && service.consumedSlots < service.config.MaxConcurrent {
		if ctx.Err() != nil {
			return
		}

		jobID := service.waiting[0]
		service.waiting = service.waiting[1:]
		if !service.registry.Has(jobID) {
			log.Warnf("Job %s was removed before it could start\n", jobID)
			continue
		}

		service.consumedSlots++
		service.jobWg.Add(1)
		go func(jobID uuid.UUID, wg *sync.WaitGroup) {
			defer wg.Done()
			defer service.releaseSlot(jobID)

			service.execute(ctx, jobID)
		}(jobID, service.jobWg)
	}
}

func (service *downloadService) releaseSlot(jobID uuid.UUID) {
	service.Lock()
	service.consumedSlots--
	service.Unlock()

	log.Emit(logger.DEBUG, "Job %s has released its slot\n", jobID)
	service.notifyQueueChange()
}

// notifyQueueChange wakes the service loop without blocking. The channel
// holds a single pending wake-up, which is all startWaitingJobs needs.
func (service *downloadService) notifyQueueChange() {
	select {
	case service.queueChange <- true:
	default:
	}
}

// execute runs the job through to a terminal status. Any panic raised
// while doing so is recovered and recorded as the jobs error.
func (service *downloadService) execute(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job %s panicked: %v\n%s\n", jobID, r, debug.Stack())
			service.fail(jobID, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	job, err := service.registry.Get(jobID)
	if err != nil {
		log.Warnf("Job %s could not be started: %v\n", jobID, err)
		return
	}

	// The id is fresh for every admission, so there should be nothing to
	// remove here. Clear anyway so that leftovers can never be mistaken
	// for this jobs output.
	service.storage.DeleteArtifacts(jobID.String())

	if _, err := service.registry.Mutate(jobID, func(j *Job) error { return j.transition(PROCESSING) }); err != nil {
		log.Errorf("Job %s could not be started: %v\n", jobID, err)
		return
	}
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, jobID)
	service.updateStatusMetrics()
	log.Emit(logger.DEBUG, "Starting download %s\n", jobID)

	result, err := service.download(ctx, job)
	if err != nil {
		service.fail(jobID, err)
		return
	}

	service.complete(jobID, result)
}

func (service *downloadService) download(ctx context.Context, job Job) (*Result, error) {
	storageID := job.ID.String()
	info := service.lookup(ctx, job)
	relay := &progressRelay{service: service, jobID: job.ID}
	if err := service.extractor.Download(ctx, service.downloadOptions(job, info), relay); err != nil {
		return nil, err
	}

	output, ok := service.storage.FindFinalOutput(storageID)
	if !ok {
		return nil, ErrOutputMissing
	}

	ext := strings.TrimPrefix(filepath.Ext(output), ".")
	return &Result{
		Path:        output,
		Filename:    storageID + "." + ext,
		DisplayName: service.describeOutput(job, info, output, ext),
	}, nil
}

// lookup fetches descriptive metadata for the job, used to pick the
// rendition and to name the output. This is best effort: nil is returned
// if the lookup fails.
func (service *downloadService) lookup(ctx context.Context, job Job) *extract.Info {
	info, err := service.extractor.Describe(ctx, job.Request.URL)
	if err != nil {
		log.Warnf("Failed to fetch metadata for job %s: %v\n", job.ID, err)
		return nil
	}

	return info
}

func (service *downloadService) downloadOptions(job Job, info *extract.Info) extract.DownloadOptions {
	opts := extract.DownloadOptions{
		URL:            job.Request.URL,
		OutputTemplate: service.storage.Allocate(job.ID.String()),
		Clip:           job.Request.Clip.Range(),
		EmbedMetadata:  true,
	}

	rendition := strings.TrimSpace(job.Request.RenditionID)
	switch {
	case job.Request.AudioOnly:
		opts.Format = bestAudioFormat
		opts.AudioOnly = true
	case rendition == "" || rendition == bestRendition:
		opts.Format = bestVideoFormat
		opts.MergeFormat = videoMergeFormat
	case carriesAudio(info, rendition):
		opts.Format = rendition + "/best"
		opts.MergeFormat = videoMergeFormat
	default:
		opts.Format = rendition + "+bestaudio/best"
		opts.MergeFormat = videoMergeFormat
	}

	return opts
}

// carriesAudio is true only when the metadata positively reports that the
// rendition has an audio stream of its own. Unknown renditions are assumed
// to be video only.
func carriesAudio(info *extract.Info, rendition string) bool {
	if info == nil {
		return false
	}

	for _, f := range info.Formats {
		if f.ID == rendition {
			return !f.VideoOnly() && f.AudioCodec != ""
		}
	}

	return false
}

// describeOutput names the output using the metadata fetched before the
// download, and stamps it with the original upload time. Without metadata
// the request title, or a generic name, is used instead.
func (service *downloadService) describeOutput(job Job, info *extract.Info, output string, ext string) string {
	if info == nil {
		return displayName(job.Request.Title, ext)
	}

	if service.config.PreserveUploadTime && info.Uploaded != nil {
		if err := os.Chtimes(output, *info.Uploaded, *info.Uploaded); err != nil {
			log.Warnf("Failed to set modification time of %s: %v\n", output, err)
		}
	}

	title := info.Title
	if strings.TrimSpace(title) == "" {
		title = job.Request.Title
	}

	return displayName(title, ext)
}

func (service *downloadService) complete(jobID uuid.UUID, result *Result) {
	_, err := service.registry.Mutate(jobID, func(j *Job) error {
		if err := j.transition(COMPLETED); err != nil {
			return err
		}

		j.Progress = 100
		j.Result = result
		return nil
	})
	if err != nil {
		log.Errorf("Failed to complete job %s: %v\n", jobID, err)
		return
	}

	log.Emit(logger.SUCCESS, "Download %s completed (%s)\n", jobID, result.DisplayName)
	metrics.IncreaseJobsTotalMetric(COMPLETED.String())
	service.updateStatusMetrics()
	service.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, jobID)
}

func (service *downloadService) fail(jobID uuid.UUID, cause error) {
	_, err := service.registry.Mutate(jobID, func(j *Job) error {
		if err := j.transition(ERRORED); err != nil {
			return err
		}

		j.Error = cause.Error()
		return nil
	})
	if err != nil {
		log.Errorf("Failed to record failure (%v) of job %s: %v\n", cause, jobID, err)
		return
	}

	log.Warnf("Download %s failed: %v\n", jobID, cause)
	metrics.IncreaseJobsTotalMetric(ERRORED.String())
	service.updateStatusMetrics()
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, jobID)
}

func (service *downloadService) updateProgress(jobID uuid.UUID, percent float64) {
	changed := false
	_, err := service.registry.Mutate(jobID, func(j *Job) error {
		changed = j.advanceProgress(percent)
		return nil
	})
	if err != nil {
		log.Warnf("Dropping progress update for job %s: %v\n", jobID, err)
		return
	}

	if changed {
		service.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, jobID)
	}
}

func (service *downloadService) updateStatusMetrics() {
	for status, count := range service.registry.CountByStatus() {
		metrics.UpdateJobStatusCountMetric(status.String(), count)
	}
}

func (relay *progressRelay) Downloading(percent float64) {
	relay.service.updateProgress(relay.jobID, percent)
}

func (relay *progressRelay) Finished() {
	relay.service.updateProgress(relay.jobID, 100)
}

// displayName builds a filename safe for a Content-Disposition header
// and for every common filesystem.
func displayName(title string, ext string) string {
	name := strings.Trim(unsafeFilenameChars.ReplaceAllString(title, "_"), " ._")
	if runes := []rune(name); len(runes) > maxDisplayName {
		name = strings.TrimSpace(string(runes[:maxDisplayName]))
	}
	if name == "" {
		name = fallbackName
	}

	if ext == "" {
		return name
	}
	return name + "." + ext
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID.String() < jobs[j].ID.String()
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
