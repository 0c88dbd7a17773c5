package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/internal/download/mocks"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type serviceHarness struct {
	service interface {
		Submit(download.Request) (uuid.UUID, error)
		Job(uuid.UUID) (download.Job, error)
		Result(uuid.UUID) (*download.Result, error)
	}
	registry  *download.Registry
	area      *storage.Area
	bus       event.EventCoordinator
	extractor *mocks.MockExtractor
}

func newHarness(t *testing.T, maxConcurrent int, run bool) *serviceHarness {
	dir := fs.NewDir(t, "grab-download")
	area, err := storage.New(storage.Config{Path: filepath.Join(dir.Path(), "area")})
	require.NoError(t, err)

	registry := download.NewRegistry()
	bus := event.New()
	extractor := mocks.NewMockExtractor(t)

	service, err := download.New(download.Config{MaxConcurrent: maxConcurrent, PreserveUploadTime: true}, registry, extractor, area, bus)
	require.NoError(t, err)

	if run {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			assert.NoError(t, service.Run(ctx))
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	return &serviceHarness{service: service, registry: registry, area: area, bus: bus, extractor: extractor}
}

// writeOutput returns a Download implementation which writes an output file
// with the extension given to the template the extractor was handed.
func writeOutput(ext string) func(context.Context, extract.DownloadOptions, extract.ProgressSink) error {
	return func(_ context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
		sink.Finished()
		path := strings.Replace(opts.OutputTemplate, "%(ext)s", ext, 1)
		return os.WriteFile(path, []byte("media"), 0o644)
	}
}

func (h *serviceHarness) expectNoMetadata() {
	h.extractor.On("Describe", mock.Anything, mock.Anything).Return(nil, errors.New("no metadata")).Maybe()
}

func (h *serviceHarness) waitForStatus(t *testing.T, id uuid.UUID, status download.JobStatus) download.Job {
	var job download.Job
	require.Eventually(t, func() bool {
		j, err := h.service.Job(id)
		job = j
		return err == nil && j.Status == status
	}, waitFor, tick, "job %s never reached status %s", id, status)

	return job
}

func Test_New_RejectsZeroConcurrency(t *testing.T) {
	_, err := download.New(download.Config{MaxConcurrent: 0}, download.NewRegistry(), nil, nil, event.New())
	assert.Error(t, err)
}

func Test_Submit_ValidatesRequest(t *testing.T) {
	h := newHarness(t, 1, false)

	tests := []struct {
		summary string
		request download.Request
	}{
		{"missing url", download.Request{}},
		{"blank url", download.Request{URL: "   "}},
		{"clip ends before it starts", download.Request{URL: "https://y/v", Clip: &download.Clip{Start: "0:20", End: "0:10"}}},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			_, err := h.service.Submit(tt.request)
			assert.ErrorIs(t, err, download.ErrInvalidRequest)
		})
	}
}

func Test_Submit_MintsFreshIdsAndQueues(t *testing.T) {
	h := newHarness(t, 1, false)

	first, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)
	second, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "identical requests must receive distinct ids")

	job, err := h.service.Job(first)
	require.NoError(t, err)
	assert.Equal(t, download.QUEUED, job.Status)
	assert.Zero(t, job.Progress)
}

func Test_Scheduler_LimitsConcurrency(t *testing.T) {
	h := newHarness(t, 3, true)
	h.expectNoMetadata()

	release := make(chan struct{})
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
			return writeOutput("mp4")(ctx, opts, sink)
		},
	)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		id, err := h.service.Submit(download.Request{URL: "https://y/v"})
		require.NoError(t, err)
		ids[i] = id
	}

	require.Eventually(t, func() bool {
		return h.registry.CountByStatus()[download.PROCESSING] == 3
	}, waitFor, tick)

	// Give the scheduler a chance to misbehave before checking the queue.
	time.Sleep(50 * time.Millisecond)
	counts := h.registry.CountByStatus()
	assert.Equal(t, 3, counts[download.PROCESSING])
	assert.Equal(t, 2, counts[download.QUEUED])

	close(release)
	for _, id := range ids {
		h.waitForStatus(t, id, download.COMPLETED)
	}
}

func Test_Scheduler_StartsInAdmissionOrder(t *testing.T) {
	h := newHarness(t, 1, false)
	h.expectNoMetadata()

	var mu sync.Mutex
	order := make([]string, 0)
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
			mu.Lock()
			order = append(order, opts.URL)
			mu.Unlock()
			return writeOutput("mp4")(ctx, opts, sink)
		},
	)

	for _, url := range []string{"https://y/1", "https://y/2", "https://y/3"} {
		_, err := h.service.Submit(download.Request{URL: url})
		require.NoError(t, err)
	}

	service, ok := h.service.(interface{ Run(context.Context) error })
	require.True(t, ok)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = service.Run(ctx) }()
	defer func() { cancel(); <-done }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"https://y/1", "https://y/2", "https://y/3"}, order)
}

func Test_Scheduler_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()

	var mu sync.Mutex
	observed := make([]float64, 0)
	h.bus.RegisterHandlerFunction(event.DOWNLOAD_PROGRESS, func(_ event.Event, payload event.Payload) {
		job, err := h.registry.Get(payload.(uuid.UUID))
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		observed = append(observed, job.Progress)
		mu.Unlock()
	})

	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
			for _, p := range []float64{-5, 10, 50, 30, 50, 75.5} {
				sink.Downloading(p)
			}
			return writeOutput("mp4")(ctx, opts, sink)
		},
	)

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	job := h.waitForStatus(t, id, download.COMPLETED)
	assert.Equal(t, 100.0, job.Progress)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{10, 50, 75.5, 100}, observed)
}

func Test_Scheduler_ClampsProgress(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()

	reported := make(chan struct{})
	proceed := make(chan struct{})
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
			sink.Downloading(250)
			close(reported)
			<-proceed
			return writeOutput("mp4")(ctx, opts, sink)
		},
	)

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	<-reported
	job, err := h.service.Job(id)
	require.NoError(t, err)
	assert.Equal(t, download.PROCESSING, job.Status)
	assert.Equal(t, 100.0, job.Progress)

	close(proceed)
	h.waitForStatus(t, id, download.COMPLETED)
}

func Test_Scheduler_MissingOutputIsError(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	job := h.waitForStatus(t, id, download.ERRORED)
	assert.Equal(t, download.ErrOutputMissing.Error(), job.Error)
	assert.Nil(t, job.Result)

	_, err = h.service.Result(id)
	assert.ErrorIs(t, err, download.ErrJobNotReady)
}

func Test_Result_OutputRemovedAfterCompletion(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(writeOutput("mp4"))

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)
	h.waitForStatus(t, id, download.COMPLETED)

	result, err := h.service.Result(id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(result.Path))

	_, err = h.service.Result(id)
	assert.ErrorIs(t, err, download.ErrOutputMissing)
}

func Test_Scheduler_SidecarsAreNotOutput(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
			return writeOutput("webm.part")(ctx, opts, sink)
		},
	)

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	job := h.waitForStatus(t, id, download.ERRORED)
	assert.Equal(t, "no output produced", job.Error)
}

func Test_Scheduler_ExtractorFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).
		Return(&extract.ExecutionError{Stage: "download", Cause: errors.New("HTTP Error 403")})

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	job := h.waitForStatus(t, id, download.ERRORED)
	assert.Equal(t, "download failed: HTTP Error 403", job.Error)
}

func Test_Scheduler_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.MatchedBy(func(opts extract.DownloadOptions) bool { return opts.URL == "https://y/panic" }), mock.Anything).
		Return(func(context.Context, extract.DownloadOptions, extract.ProgressSink) error { panic("boom") })
	h.extractor.On("Download", mock.Anything, mock.MatchedBy(func(opts extract.DownloadOptions) bool { return opts.URL == "https://y/ok" }), mock.Anything).
		Return(writeOutput("mp4"))

	panicking, err := h.service.Submit(download.Request{URL: "https://y/panic"})
	require.NoError(t, err)
	healthy, err := h.service.Submit(download.Request{URL: "https://y/ok"})
	require.NoError(t, err)

	job := h.waitForStatus(t, panicking, download.ERRORED)
	assert.Contains(t, job.Error, "boom")

	// The slot held by the panicking job must have been released.
	h.waitForStatus(t, healthy, download.COMPLETED)
}

func Test_Scheduler_PassesClipWindow(t *testing.T) {
	h := newHarness(t, 1, true)
	h.expectNoMetadata()
	h.extractor.On("Download", mock.Anything, mock.MatchedBy(func(opts extract.DownloadOptions) bool {
		return opts.Clip != nil && opts.Clip.Start == 10 && opts.Clip.End != nil && *opts.Clip.End == 20
	}), mock.Anything).Return(writeOutput("mp4"))

	id, err := h.service.Submit(download.Request{URL: "https://y/v", Clip: &download.Clip{Start: "0:10", End: "0:20"}})
	require.NoError(t, err)

	h.waitForStatus(t, id, download.COMPLETED)
}

func Test_Scheduler_SelectsRendition(t *testing.T) {
	tests := []struct {
		summary     string
		request     download.Request
		format      string
		mergeFormat string
		audioOnly   bool
	}{
		{"default", download.Request{URL: "u"}, "bestvideo+bestaudio/best", "mp4", false},
		{"explicit best", download.Request{URL: "u", RenditionID: "best"}, "bestvideo+bestaudio/best", "mp4", false},
		{"explicit rendition", download.Request{URL: "u", RenditionID: "137"}, "137+bestaudio/best", "mp4", false},
		{"audio only wins", download.Request{URL: "u", RenditionID: "137", AudioOnly: true}, "bestaudio/best", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := newHarness(t, 1, true)
			h.expectNoMetadata()
			h.extractor.On("Download", mock.Anything, mock.MatchedBy(func(opts extract.DownloadOptions) bool {
				return opts.Format == tt.format && opts.MergeFormat == tt.mergeFormat && opts.AudioOnly == tt.audioOnly
			}), mock.Anything).Return(writeOutput("mp4"))

			id, err := h.service.Submit(tt.request)
			require.NoError(t, err)
			h.waitForStatus(t, id, download.COMPLETED)
		})
	}
}

func Test_Scheduler_RenditionWithAudioIsNotMerged(t *testing.T) {
	tests := []struct {
		summary string
		formats []extract.Format
		format  string
	}{
		{"muxed rendition", []extract.Format{{ID: "18", VideoCodec: "avc1", AudioCodec: "mp4a"}}, "18/best"},
		{"video only rendition", []extract.Format{{ID: "18", VideoCodec: "avc1", AudioCodec: "none"}}, "18+bestaudio/best"},
		{"codecs not reported", []extract.Format{{ID: "18"}}, "18+bestaudio/best"},
		{"rendition not listed", []extract.Format{{ID: "22", VideoCodec: "avc1", AudioCodec: "mp4a"}}, "18+bestaudio/best"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := newHarness(t, 1, true)
			h.extractor.On("Describe", mock.Anything, "u").Return(&extract.Info{Title: "T", Formats: tt.formats}, nil).Once()
			h.extractor.On("Download", mock.Anything, mock.MatchedBy(func(opts extract.DownloadOptions) bool {
				return opts.Format == tt.format && opts.MergeFormat == "mp4"
			}), mock.Anything).Return(writeOutput("mp4"))

			id, err := h.service.Submit(download.Request{URL: "u", RenditionID: "18"})
			require.NoError(t, err)
			h.waitForStatus(t, id, download.COMPLETED)
		})
	}
}

func Test_Scheduler_NamesOutputFromMetadata(t *testing.T) {
	h := newHarness(t, 1, true)
	uploaded := time.Date(2021, time.March, 4, 12, 0, 0, 0, time.UTC)
	h.extractor.On("Describe", mock.Anything, "https://y/v").Return(&extract.Info{Title: "Live: at/the *Venue*", Uploaded: &uploaded}, nil)
	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(writeOutput("mp4"))

	id, err := h.service.Submit(download.Request{URL: "https://y/v", Title: "ignored"})
	require.NoError(t, err)

	job := h.waitForStatus(t, id, download.COMPLETED)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Live_ at_the _Venue.mp4", job.Result.DisplayName)
	assert.Equal(t, id.String()+".mp4", job.Result.Filename)

	stat, err := os.Stat(job.Result.Path)
	require.NoError(t, err)
	assert.True(t, stat.ModTime().Equal(uploaded), "expected mtime %s, got %s", uploaded, stat.ModTime())
}

func Test_Scheduler_NamingDegradesWithoutMetadata(t *testing.T) {
	tests := []struct {
		summary  string
		title    string
		expected string
	}{
		{"falls back to request title", "My Title", "My Title.mp3"},
		{"falls back to generic name", "", "download.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := newHarness(t, 1, true)
			h.expectNoMetadata()
			h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(writeOutput("mp3"))

			id, err := h.service.Submit(download.Request{URL: "https://y/v", Title: tt.title, AudioOnly: true})
			require.NoError(t, err)

			job := h.waitForStatus(t, id, download.COMPLETED)
			assert.Equal(t, tt.expected, job.Result.DisplayName)
		})
	}
}

func Test_Scheduler_PreCleansStaleArtifacts(t *testing.T) {
	h := newHarness(t, 1, false)
	h.expectNoMetadata()

	id, err := h.service.Submit(download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	// An artifact which would otherwise be picked as the final output.
	stale := filepath.Join(h.area.Path(), id.String()+".mkv")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	h.extractor.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(writeOutput("mp4"))

	service := h.service.(interface{ Run(context.Context) error })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = service.Run(ctx) }()
	defer func() { cancel(); <-done }()

	job := h.waitForStatus(t, id, download.COMPLETED)
	assert.Equal(t, ".mp4", filepath.Ext(job.Result.Path))
	assert.NoFileExists(t, stale)
}
