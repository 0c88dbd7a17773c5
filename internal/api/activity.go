package api

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/api/downloads"
	"github.com/hbomb79/Grab/internal/api/util"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/internal/http/websocket"
)

const (
	TITLE_DOWNLOAD_UPDATE   = "DOWNLOAD_UPDATE"
	TITLE_DOWNLOAD_PROGRESS = "DOWNLOAD_PROGRESS"
	TITLE_DOWNLOAD_REMOVED  = "DOWNLOAD_REMOVED"
)

type (
	DownloadUpdate struct {
		DownloadID uuid.UUID      `json:"download_id"`
		Download   *downloads.Dto `json:"download"`
	}

	DownloadProgressUpdate struct {
		DownloadID uuid.UUID `json:"download_id"`
		Progress   float64   `json:"progress"`
	}

	jobStore interface {
		Job(uuid.UUID) (download.Job, error)
		Jobs() []download.Job
	}

	broadcaster struct {
		socketHub *websocket.SocketHub
		jobStore  jobStore
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, jobStore jobStore) *broadcaster {
	return &broadcaster{socketHub, jobStore}
}

// BroadcastDownloadUpdate pushes the latest state of the job to every
// connected client. A job which has since been released is reported as
// removed instead.
func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	job, err := hub.jobStore.Job(id)
	if err != nil {
		return hub.BroadcastDownloadRemoved(id)
	}

	dto := downloads.NewDto(job)
	hub.broadcast(TITLE_DOWNLOAD_UPDATE, DownloadUpdate{DownloadID: id, Download: &dto})
	return nil
}

func (hub *broadcaster) BroadcastDownloadProgressUpdate(id uuid.UUID) error {
	job, err := hub.jobStore.Job(id)
	if err != nil {
		return fmt.Errorf("progress update for job %s: %w", id, err)
	}

	hub.broadcast(TITLE_DOWNLOAD_PROGRESS, DownloadProgressUpdate{DownloadID: id, Progress: job.Progress})
	return nil
}

func (hub *broadcaster) BroadcastDownloadRemoved(id uuid.UUID) error {
	hub.broadcast(TITLE_DOWNLOAD_REMOVED, DownloadUpdate{DownloadID: id})
	return nil
}

// connectionPayload furnishes newly connected clients with the state of
// every resident job.
func (hub *broadcaster) connectionPayload() map[string]interface{} {
	return map[string]interface{}{
		"downloads": util.ApplyConversion(hub.jobStore.Jobs(), downloads.NewDto),
	}
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
