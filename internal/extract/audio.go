package extract

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/floostack/transcoder/ffmpeg"
)

// AudioTranscoder converts downloaded media to an audio-only file
// using ffmpeg.
type AudioTranscoder struct {
	config Config
}

func NewAudioTranscoder(config Config) *AudioTranscoder {
	return &AudioTranscoder{config: config}
}

func (t *AudioTranscoder) Format() string { return t.config.AudioFormat }

func (t *AudioTranscoder) Transcode(ctx context.Context, input string, output string) error {
	overwrite := true
	skipVideo := true
	format := t.config.AudioFormat
	codec := t.config.AudioCodec
	bitrate := t.config.AudioBitrate

	opts := &ffmpeg.Options{
		OutputFormat: &format,
		Overwrite:    &overwrite,
		SkipVideo:    &skipVideo,
		AudioCodec:   &codec,
		AudioBitrate: &bitrate,
	}

	progress, err := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   t.config.FfmpegBinPath,
			FfprobeBinPath:  t.config.FfprobeBinPath,
		}).
		Input(input).
		Output(output).
		WithContext(&ctx).
		Start(opts)
	if err != nil {
		return parseFfmpegError(err)
	}

	for prog := range progress {
		log.Verbosef("Audio conversion of %s at %.2f%%\n", input, prog.GetProgress())
	}

	return ctx.Err()
}

// parseFfmpegError extracts the JSON 'message' ffmpeg embeds in its
// (very long) failure output.
func parseFfmpegError(err error) error {
	groups := regexp.MustCompile(`(?s)message: ({.*})`).FindStringSubmatch(err.Error())
	if len(groups) < 2 {
		return err
	}

	var out struct {
		Error struct {
			String string `json:"string"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil || out.Error.String == "" {
		return errors.New(groups[1])
	}

	return errors.New(out.Error.String)
}
