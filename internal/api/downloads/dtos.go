package downloads

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/download"
)

type (
	ClipDto struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}

	CreateRequest struct {
		URL       string   `json:"url" validate:"required,url"`
		Title     *string  `json:"title"`
		FormatID  *string  `json:"format_id" validate:"omitempty,max=64"`
		AudioOnly *bool    `json:"audio_only"`
		Clip      *ClipDto `json:"clip"`
	}

	CreateResponse struct {
		TaskID uuid.UUID `json:"task_id"`
	}

	// Dto is the representation of a job returned by the status endpoint
	// and pushed over the activity socket.
	Dto struct {
		ID       uuid.UUID `json:"id"`
		Status   string    `json:"status"`
		Progress float64   `json:"progress"`
		Error    *string   `json:"error,omitempty"`
		Filename *string   `json:"filename,omitempty"`
		URL      string    `json:"url"`
	}
)

func NewDto(job download.Job) Dto {
	dto := Dto{
		ID:       job.ID,
		Status:   job.Status.String(),
		Progress: job.Progress,
		URL:      job.Request.URL,
	}

	if job.Status == download.ERRORED {
		msg := job.Error
		dto.Error = &msg
	}
	if job.Result != nil {
		name := job.Result.DisplayName
		dto.Filename = &name
	}

	return dto
}

func (request *CreateRequest) toModel() download.Request {
	model := download.Request{
		URL:       request.URL,
		AudioOnly: request.AudioOnly != nil && *request.AudioOnly,
	}

	if request.Title != nil {
		model.Title = *request.Title
	}
	if request.FormatID != nil {
		model.RenditionID = *request.FormatID
	}
	if request.Clip != nil {
		model.Clip = &download.Clip{Start: request.Clip.Start, End: request.Clip.End}
	}

	return model
}
