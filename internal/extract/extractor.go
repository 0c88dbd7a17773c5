// Package extract contains the boundary between Grab and the third-party
// tooling that actually resolves and downloads remote media.
package extract

import (
	"context"
	"time"
)

type (
	// Extractor resolves metadata for a remote URL and downloads the
	// media it points to.
	Extractor interface {
		Describe(ctx context.Context, url string) (*Info, error)
		Browse(ctx context.Context, url string, tab string, offset int, limit int) (*Page, error)
		Download(ctx context.Context, opts DownloadOptions, sink ProgressSink) error
	}

	// ProgressSink receives progress notifications from a running
	// download. Implementations must be safe to call from the goroutine
	// running the download.
	ProgressSink interface {
		Downloading(percent float64)
		Finished()
	}

	Info struct {
		ID          string
		Title       string
		Duration    float64
		Thumbnail   string
		OriginalURL string
		Uploaded    *time.Time
		Formats     []Format
		Chapters    []Chapter
		Transcript  []TranscriptLine
		IsPlaylist  bool
		Entries     []Entry
	}

	Format struct {
		ID         string
		Ext        string
		Height     int
		Resolution string
		VideoCodec string
		AudioCodec string
	}

	Chapter struct {
		Title string
		Start float64
		End   float64
	}

	TranscriptLine struct {
		Start float64
		End   float64
		Text  string
	}

	Entry struct {
		ID    string
		Title string
		URL   string
	}

	Page struct {
		Entries    []Entry
		NextOffset *int
	}

	// ClipRange selects a window of the media, in seconds. A nil End means
	// the window runs until the end of the media.
	ClipRange struct {
		Start float64
		End   *float64
	}

	DownloadOptions struct {
		URL            string
		OutputTemplate string
		Format         string
		MergeFormat    string
		AudioOnly      bool
		Clip           *ClipRange
		EmbedMetadata  bool
	}
)

// VideoOnly is true when the format carries no audio stream.
func (f Format) VideoOnly() bool {
	return f.AudioCodec == "none" && f.VideoCodec != "none"
}
