package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/mitchellh/mapstructure"
)

var log = logger.Get("Extractor")

const (
	progressPrefix = "[grab-progress]"
	filePrefix     = "[grab-file]"
)

type (
	// Transcoder converts a downloaded file in to the audio format
	// requested by the user.
	Transcoder interface {
		Transcode(ctx context.Context, input string, output string) error
		Format() string
	}

	// YtDlp is an Extractor backed by the yt-dlp command line tool.
	YtDlp struct {
		config     Config
		runner     commandRunner
		transcoder Transcoder
	}

	rawInfo struct {
		ID               string       `mapstructure:"id"`
		Type             string       `mapstructure:"_type"`
		Title            string       `mapstructure:"title"`
		Duration         float64      `mapstructure:"duration"`
		Thumbnail        string       `mapstructure:"thumbnail"`
		WebpageURL       string       `mapstructure:"webpage_url"`
		OriginalURL      string       `mapstructure:"original_url"`
		Timestamp        *int64       `mapstructure:"timestamp"`
		ReleaseTimestamp *int64       `mapstructure:"release_timestamp"`
		UploadDate       string       `mapstructure:"upload_date"`
		Formats          []rawFormat  `mapstructure:"formats"`
		Chapters         []rawChapter `mapstructure:"chapters"`
		Entries          []rawEntry   `mapstructure:"entries"`
	}

	rawFormat struct {
		ID         string `mapstructure:"format_id"`
		Ext        string `mapstructure:"ext"`
		Height     int    `mapstructure:"height"`
		Resolution string `mapstructure:"resolution"`
		VideoCodec string `mapstructure:"vcodec"`
		AudioCodec string `mapstructure:"acodec"`
	}

	rawChapter struct {
		Title     string  `mapstructure:"title"`
		StartTime float64 `mapstructure:"start_time"`
		EndTime   float64 `mapstructure:"end_time"`
	}

	rawEntry struct {
		ID    string `mapstructure:"id"`
		Title string `mapstructure:"title"`
		URL   string `mapstructure:"url"`
	}
)

func NewYtDlp(config Config, transcoder Transcoder) *YtDlp {
	return &YtDlp{config: config, runner: execRunner{}, transcoder: transcoder}
}

func (yt *YtDlp) Describe(ctx context.Context, url string) (*Info, error) {
	raw, err := yt.dump(ctx, url, "--no-playlist", "--flat-playlist")
	if err != nil {
		return nil, &ResolutionError{URL: url, Cause: err}
	}

	return raw.toInfo(), nil
}

// Browse lists a page of entries from a playlist, or from one of the tabs
// (e.g. "videos", "shorts") of a channel.
func (yt *YtDlp) Browse(ctx context.Context, url string, tab string, offset int, limit int) (*Page, error) {
	if offset < 0 || limit <= 0 {
		return nil, &ResolutionError{URL: url, Cause: fmt.Errorf("invalid page window offset=%d limit=%d", offset, limit)}
	}

	target := url
	if tab = strings.Trim(tab, "/ "); tab != "" {
		target = strings.TrimRight(url, "/") + "/" + tab
	}

	items := fmt.Sprintf("%d:%d", offset+1, offset+limit)
	raw, err := yt.dump(ctx, target, "--flat-playlist", "--playlist-items", items)
	if err != nil {
		return nil, &ResolutionError{URL: target, Cause: err}
	}

	page := &Page{Entries: raw.toInfo().Entries}
	if len(page.Entries) >= limit {
		next := offset + limit
		page.NextOffset = &next
	}

	return page, nil
}

// Download runs yt-dlp for the given options, reporting progress to the
// sink. For audio-only downloads the result is handed to the transcoder
// once yt-dlp has finished, and the source file removed.
func (yt *YtDlp) Download(ctx context.Context, opts DownloadOptions, sink ProgressSink) error {
	args := yt.downloadArgs(opts)
	log.Debugf("Starting yt-dlp with args %v\n", args)

	var outputPath string
	err := yt.runner.Stream(ctx, yt.config.YtDlpBinPath, args, func(line string) {
		if path, ok := strings.CutPrefix(line, filePrefix); ok {
			outputPath = strings.TrimSpace(path)
			return
		}

		parseProgressLine(line, sink)
	})
	if err != nil {
		return &ExecutionError{Stage: "download", Cause: err}
	}

	if !opts.AudioOnly || yt.transcoder == nil || outputPath == "" {
		return nil
	}

	return yt.convertAudio(ctx, outputPath)
}

func (yt *YtDlp) convertAudio(ctx context.Context, input string) error {
	ext := filepath.Ext(input)
	if strings.EqualFold(strings.TrimPrefix(ext, "."), yt.transcoder.Format()) {
		return nil
	}

	output := strings.TrimSuffix(input, ext) + "." + yt.transcoder.Format()
	if err := yt.transcoder.Transcode(ctx, input, output); err != nil {
		return &ExecutionError{Stage: "audio conversion", Cause: err}
	}

	if err := os.Remove(input); err != nil {
		log.Warnf("Failed to remove audio source %s after conversion: %v\n", input, err)
	}

	return nil
}

func (yt *YtDlp) downloadArgs(opts DownloadOptions) []string {
	args := []string{
		"--newline", "--no-warnings", "--no-playlist", "--progress",
		"--progress-template", "download:" + progressPrefix + " %(progress.status)s %(progress._percent_str)s",
		"--print", "after_move:" + filePrefix + " %(filepath)s",
		"--output", opts.OutputTemplate,
		"--format", opts.Format,
	}

	if yt.config.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(yt.config.ConcurrentFragments))
	}
	if yt.config.FfmpegBinPath != "" {
		args = append(args, "--ffmpeg-location", yt.config.FfmpegBinPath)
	}
	if opts.MergeFormat != "" {
		args = append(args, "--merge-output-format", opts.MergeFormat)
	}
	if opts.Clip != nil {
		args = append(args, "--download-sections", clipSection(*opts.Clip))
	}
	if len(yt.config.SponsorBlockRemove) > 0 {
		args = append(args, "--sponsorblock-remove", strings.Join(yt.config.SponsorBlockRemove, ","))
	}
	if opts.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	// Cover art and chapters would not survive the audio conversion, which
	// drops every video stream.
	if opts.EmbedMetadata && !opts.AudioOnly {
		args = append(args, "--embed-thumbnail", "--embed-chapters")
		if yt.config.EmbedSubtitles {
			args = append(args, "--embed-subs", "--sub-langs", "en.*")
		}
	}

	return append(args, "--", opts.URL)
}

func (yt *YtDlp) dump(ctx context.Context, url string, extra ...string) (*rawInfo, error) {
	args := append([]string{"--dump-single-json", "--no-warnings"}, extra...)
	args = append(args, "--", url)

	out, err := yt.runner.Output(ctx, yt.config.YtDlpBinPath, args...)
	if err != nil {
		return nil, err
	}

	return decodeInfo(out)
}

func decodeInfo(data []byte) (*rawInfo, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse extractor output: %w", err)
	}

	var raw rawInfo
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(payload); err != nil {
		return nil, fmt.Errorf("failed to decode extractor output: %w", err)
	}

	return &raw, nil
}

func (raw *rawInfo) toInfo() *Info {
	info := &Info{
		ID:          raw.ID,
		Title:       raw.Title,
		Duration:    raw.Duration,
		Thumbnail:   raw.Thumbnail,
		OriginalURL: raw.OriginalURL,
		Uploaded:    raw.uploadTime(),
		IsPlaylist:  raw.Type == "playlist",
		Formats:     make([]Format, 0, len(raw.Formats)),
		Chapters:    make([]Chapter, 0, len(raw.Chapters)),
		Transcript:  make([]TranscriptLine, 0),
		Entries:     make([]Entry, 0, len(raw.Entries)),
	}
	if info.OriginalURL == "" {
		info.OriginalURL = raw.WebpageURL
	}

	for _, f := range raw.Formats {
		info.Formats = append(info.Formats, Format{
			ID: f.ID, Ext: f.Ext, Height: f.Height, Resolution: f.Resolution,
			VideoCodec: f.VideoCodec, AudioCodec: f.AudioCodec,
		})
	}
	for _, c := range raw.Chapters {
		info.Chapters = append(info.Chapters, Chapter{Title: c.Title, Start: c.StartTime, End: c.EndTime})
	}
	for _, e := range raw.Entries {
		url := e.URL
		if url == "" && e.ID != "" {
			url = "https://www.youtube.com/watch?v=" + e.ID
		}
		info.Entries = append(info.Entries, Entry{ID: e.ID, Title: e.Title, URL: url})
	}

	return info
}

// uploadTime prefers the exact release/upload timestamps, falling back to
// the day-resolution upload date.
func (raw *rawInfo) uploadTime() *time.Time {
	for _, ts := range []*int64{raw.ReleaseTimestamp, raw.Timestamp} {
		if ts != nil && *ts > 0 {
			t := time.Unix(*ts, 0)
			return &t
		}
	}

	if raw.UploadDate != "" {
		if t, err := time.Parse("20060102", raw.UploadDate); err == nil {
			return &t
		}
	}

	return nil
}

func clipSection(clip ClipRange) string {
	end := "inf"
	if clip.End != nil {
		end = formatSeconds(*clip.End)
	}

	return fmt.Sprintf("*%s-%s", formatSeconds(clip.Start), end)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// parseProgressLine forwards progress lines emitted by our progress
// template to the sink. Any other output is ignored.
func parseProgressLine(line string, sink ProgressSink) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), progressPrefix)
	if !ok {
		return
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "finished":
		sink.Finished()
	case "downloading":
		if len(fields) < 2 {
			return
		}

		percent, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "%"), 64)
		if err != nil {
			return
		}
		sink.Downloading(percent)
	}
}
