package extract

type Config struct {
	YtDlpBinPath        string   `yaml:"ytdlp_binary" env:"EXTRACTOR_YTDLP_BINARY" env-default:"yt-dlp"`
	FfmpegBinPath       string   `yaml:"ffmpeg_binary" env:"EXTRACTOR_FFMPEG_BINARY" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinPath      string   `yaml:"ffprobe_binary" env:"EXTRACTOR_FFPROBE_BINARY" env-default:"/usr/bin/ffprobe"`
	ConcurrentFragments int      `yaml:"concurrent_fragments" env:"EXTRACTOR_CONCURRENT_FRAGMENTS" env-default:"5"`
	SponsorBlockRemove  []string `yaml:"sponsorblock_remove" env:"EXTRACTOR_SPONSORBLOCK_REMOVE" env-default:"sponsor,selfpromo,interaction,intro,outro,preview"`
	EmbedSubtitles      bool     `yaml:"embed_subtitles" env:"EXTRACTOR_EMBED_SUBTITLES" env-default:"true"`
	AudioCodec          string   `yaml:"audio_codec" env:"EXTRACTOR_AUDIO_CODEC" env-default:"libmp3lame"`
	AudioFormat         string   `yaml:"audio_format" env:"EXTRACTOR_AUDIO_FORMAT" env-default:"mp3"`
	AudioBitrate        string   `yaml:"audio_bitrate" env:"EXTRACTOR_AUDIO_BITRATE" env-default:"192k"`
}
