// Package reaper periodically removes stale files from the storage area,
// bounding disk usage even when clients never retrieve their results.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/hbomb79/Grab/internal/metrics"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/lthibault/jitterbug/v2"
)

var log = logger.Get("Reaper")

type (
	Config struct {
		Interval  time.Duration `yaml:"interval" env:"REAPER_INTERVAL" env-default:"30m"`
		Retention time.Duration `yaml:"retention" env:"REAPER_RETENTION" env-default:"1h"`
	}

	Sweeper interface {
		SweepOlderThan(age time.Duration) int
	}

	Reaper struct {
		config  Config
		sweeper Sweeper
	}
)

func New(config Config, sweeper Sweeper) (*Reaper, error) {
	if config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	if config.Retention <= 0 {
		return nil, errors.New("reaper retention must be positive")
	}

	return &Reaper{config: config, sweeper: sweeper}, nil
}

// Run sweeps the storage area on every tick of a slightly jittered ticker
// until the context is cancelled.
func (reaper *Reaper) Run(ctx context.Context) error {
	ticker := jitterbug.New(reaper.config.Interval, &jitterbug.Norm{Stdev: reaper.config.Interval / 50, Mean: 0})
	defer ticker.Stop()

	log.Emit(logger.NEW, "Sweeping files older than %s every %s\n", reaper.config.Retention, reaper.config.Interval)
	for {
		select {
		case <-ticker.C:
			reaper.Sweep()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down (context cancelled)\n")
			return nil
		}
	}
}

// Sweep performs a single pass over the storage area, returning the
// number of files removed.
func (reaper *Reaper) Sweep() int {
	removed := reaper.sweeper.SweepOlderThan(reaper.config.Retention)
	if removed > 0 {
		log.Emit(logger.REMOVE, "Swept %d stale file(s)\n", removed)
		metrics.IncreaseReaperRemovedMetric(removed)
	} else {
		log.Debugf("Sweep found no stale files\n")
	}

	return removed
}
