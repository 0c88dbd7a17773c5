package download

type Config struct {
	MaxConcurrent      int  `yaml:"max_concurrent" env:"SCHEDULER_MAX_CONCURRENT" env-default:"3"`
	PreserveUploadTime bool `yaml:"preserve_upload_time" env:"SCHEDULER_PRESERVE_UPLOAD_TIME" env-default:"true"`
}
