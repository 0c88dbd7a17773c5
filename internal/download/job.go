package download

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/internal/timecode"
)

type (
	JobStatus int

	// Clip holds the client supplied bounds of the portion of the media
	// to download, as timecodes (e.g. "1:30"). An empty End means the
	// clip runs to the end of the media.
	Clip struct {
		Start string
		End   string
	}

	Request struct {
		URL         string
		Title       string
		RenditionID string
		AudioOnly   bool
		Clip        *Clip
	}

	Result struct {
		Path        string
		Filename    string
		DisplayName string
	}

	// Job is a single download tracked from admission until it is released
	// by the client. The registry only ever hands out copies of a Job.
	Job struct {
		ID        uuid.UUID
		Status    JobStatus
		Progress  float64
		Request   Request
		Result    *Result
		Error     string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

const (
	QUEUED JobStatus = iota
	PROCESSING
	COMPLETED
	ERRORED
)

var allowedTransitions = map[JobStatus][]JobStatus{
	QUEUED:     {PROCESSING, ERRORED},
	PROCESSING: {COMPLETED, ERRORED},
}

func (s JobStatus) String() string {
	switch s {
	case QUEUED:
		return "queued"
	case PROCESSING:
		return "processing"
	case COMPLETED:
		return "completed"
	case ERRORED:
		return "error"
	}

	return fmt.Sprintf("unknown(%d)", int(s))
}

func (s JobStatus) IsTerminal() bool { return s == COMPLETED || s == ERRORED }

func (job *Job) String() string {
	return fmt.Sprintf("Job{id=%s status=%s progress=%.1f}", job.ID, job.Status, job.Progress)
}

// transition moves the job to the status provided, returning an error if
// that move is not permitted from the jobs current status.
func (job *Job) transition(to JobStatus) error {
	for _, allowed := range allowedTransitions[job.Status] {
		if allowed == to {
			job.Status = to
			job.UpdatedAt = time.Now()
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, to)
}

// advanceProgress applies a progress report to the job, clamped to [0, 100].
// Reports which would move the progress backwards are ignored. Returns true
// if the progress changed.
func (job *Job) advanceProgress(percent float64) bool {
	if job.Status != PROCESSING {
		return false
	}

	percent = max(0, min(100, percent))
	if percent <= job.Progress {
		return false
	}

	job.Progress = percent
	job.UpdatedAt = time.Now()
	return true
}

func (job *Job) clone() Job {
	c := *job
	if job.Result != nil {
		result := *job.Result
		c.Result = &result
	}
	if job.Request.Clip != nil {
		clip := *job.Request.Clip
		c.Request.Clip = &clip
	}

	return c
}

// Range converts the clip timecodes to the window passed to the extractor.
// An absent end leaves the window open. A window covering the whole media
// (no start, no end) is no window at all.
func (clip *Clip) Range() *extract.ClipRange {
	if clip == nil {
		return nil
	}

	window := &extract.ClipRange{Start: timecode.Parse(clip.Start)}
	if end := timecode.Parse(clip.End); end > 0 {
		window.End = &end
	}
	if window.Start == 0 && window.End == nil {
		return nil
	}

	return window
}
