package info

import (
	"fmt"
	"sort"

	"github.com/hbomb79/Grab/internal/api/util"
	"github.com/hbomb79/Grab/internal/extract"
)

const minimumFormatHeight = 360

type (
	Request struct {
		URL    string  `json:"url" validate:"required,url"`
		Tab    *string `json:"tab" validate:"omitempty,oneof=videos shorts streams playlists"`
		Offset *int    `json:"offset" validate:"omitempty,min=0"`
	}

	FormatDto struct {
		FormatID   string `json:"format_id"`
		Resolution string `json:"resolution"`
		Ext        string `json:"ext"`
	}

	ChapterDto struct {
		Title string  `json:"title"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}

	TranscriptDto struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	}

	EntryDto struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}

	VideoDto struct {
		Title       string          `json:"title"`
		Duration    float64         `json:"duration"`
		Thumbnail   string          `json:"thumbnail"`
		Formats     []FormatDto     `json:"formats"`
		Chapters    []ChapterDto    `json:"chapters"`
		Transcript  []TranscriptDto `json:"transcript"`
		OriginalURL string          `json:"original_url"`
	}

	PlaylistDto struct {
		IsPlaylist bool       `json:"is_playlist"`
		Title      string     `json:"title"`
		Entries    []EntryDto `json:"entries"`
	}

	PageDto struct {
		Entries    []EntryDto `json:"entries"`
		NextOffset *int       `json:"next_offset"`
	}
)

// NewVideoDto converts the info to the single item response. requestURL
// is used as the original URL when the extractor did not report one.
func NewVideoDto(info *extract.Info, requestURL string) VideoDto {
	originalURL := info.OriginalURL
	if originalURL == "" {
		originalURL = requestURL
	}

	return VideoDto{
		Title:       info.Title,
		Duration:    info.Duration,
		Thumbnail:   info.Thumbnail,
		Formats:     selectFormats(info.Formats),
		Chapters:    util.ApplyConversion(info.Chapters, newChapterDto),
		Transcript:  util.ApplyConversion(info.Transcript, newTranscriptDto),
		OriginalURL: originalURL,
	}
}

func NewPlaylistDto(info *extract.Info) PlaylistDto {
	return PlaylistDto{
		IsPlaylist: true,
		Title:      info.Title,
		Entries:    util.ApplyConversion(info.Entries, newEntryDto),
	}
}

func NewPageDto(page *extract.Page) PageDto {
	return PageDto{Entries: util.ApplyConversion(page.Entries, newEntryDto), NextOffset: page.NextOffset}
}

// selectFormats keeps one format per resolution (the first listed) for every
// resolution of at least 360p, ordered from highest to lowest.
func selectFormats(formats []extract.Format) []FormatDto {
	seen := make(map[int]struct{})
	heights := make(map[string]int)
	out := make([]FormatDto, 0)
	for _, f := range formats {
		if f.Height < minimumFormatHeight {
			continue
		}
		if _, ok := seen[f.Height]; ok {
			continue
		}
		seen[f.Height] = struct{}{}

		ext := f.Ext
		if ext == "" {
			ext = "mp4"
		}

		heights[f.ID] = f.Height
		out = append(out, FormatDto{FormatID: f.ID, Resolution: fmt.Sprintf("%dp", f.Height), Ext: ext})
	}

	sort.SliceStable(out, func(i, j int) bool { return heights[out[i].FormatID] > heights[out[j].FormatID] })
	return out
}

func newChapterDto(c extract.Chapter) ChapterDto {
	return ChapterDto{Title: c.Title, Start: c.Start, End: c.End}
}

func newTranscriptDto(l extract.TranscriptLine) TranscriptDto {
	return TranscriptDto{Start: l.Start, End: l.End, Text: l.Text}
}

func newEntryDto(e extract.Entry) EntryDto {
	return EntryDto{ID: e.ID, Title: e.Title, URL: e.URL}
}
