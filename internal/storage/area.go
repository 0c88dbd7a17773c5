// Package storage manages the scratch directory in which every download
// job writes its artifacts. Each artifact is named after the job that
// produced it ("<id>.<ext>") so that all the files belonging to a job can
// be found, and removed, using nothing but the job id.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Storage")

// sidecarExtensions are produced by the extractor alongside (or on the way
// to) the final output, and must never be mistaken for it.
var sidecarExtensions = map[string]struct{}{
	"part": {},
	"ytdl": {},
	"webp": {},
	"vtt":  {},
}

type Config struct {
	Path string `yaml:"path" env:"STORAGE_PATH" env-default:"./temp_downloads"`
}

type Area struct {
	path string
}

// New prepares the storage area described by the config. Artifacts left
// over from a previous run are removed, so none survive a restart. A
// directory holding anything other than artifacts is refused and left
// untouched.
func New(config Config) (*Area, error) {
	if config.Path == "" {
		return nil, errors.New("storage path must not be empty")
	}

	expanded, err := homedir.Expand(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand storage path %s: %w", config.Path, err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path %s: %w", expanded, err)
	}

	if err := clearArtifacts(abs); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage area %s: %w", abs, err)
	}

	log.Emit(logger.NEW, "Storage area prepared at %s\n", abs)
	return &Area{path: abs}, nil
}

func (area *Area) Path() string { return area.path }

// Allocate returns the output template the extractor should write the
// artifacts for the given id to. The '%(ext)s' placeholder is filled in
// by the extractor.
func (area *Area) Allocate(id string) string {
	return filepath.Join(area.path, id+".%(ext)s")
}

// ListArtifacts returns the absolute paths of every file in the area whose
// name begins with the given id, sorted by name.
func (area *Area) ListArtifacts(id string) []string {
	if id == "" {
		return nil
	}

	entries, err := os.ReadDir(area.path)
	if err != nil {
		log.Warnf("Failed to list storage area: %v\n", err)
		return nil
	}

	artifacts := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), id) {
			continue
		}

		artifacts = append(artifacts, filepath.Join(area.path, entry.Name()))
	}

	sort.Strings(artifacts)
	return artifacts
}

// FindFinalOutput returns the first artifact for the id which is not a
// sidecar file (partial downloads, thumbnails, subtitles).
func (area *Area) FindFinalOutput(id string) (string, bool) {
	for _, path := range area.ListArtifacts(id) {
		if isSidecar(path) {
			continue
		}

		return path, true
	}

	return "", false
}

// DeleteArtifacts removes every artifact belonging to the id. Failures
// are logged and otherwise ignored; calling this for an id with no
// artifacts is a no-op.
func (area *Area) DeleteArtifacts(id string) {
	for _, path := range area.ListArtifacts(id) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Failed to remove artifact %s: %v\n", path, err)
			continue
		}

		log.Emit(logger.REMOVE, "Removed artifact %s\n", filepath.Base(path))
	}
}

// SweepOlderThan removes every file in the area whose modification time is
// older than the given age, regardless of which job (if any) owns it. The
// number of files removed is returned.
func (area *Area) SweepOlderThan(age time.Duration) int {
	entries, err := os.ReadDir(area.path)
	if err != nil {
		log.Warnf("Failed to list storage area for sweep: %v\n", err)
		return 0
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warnf("Failed to stat %s during sweep: %v\n", entry.Name(), err)
			}
			continue
		}

		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(area.path, entry.Name())
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warnf("Failed to sweep %s: %v\n", path, err)
			}
			continue
		}

		removed++
	}

	return removed
}

// clearArtifacts empties an existing storage area. Every entry is checked
// before anything is removed: a single entry which is not a job artifact
// means the path is not a storage area, and nothing is deleted.
func clearArtifacts(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read storage area %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !isArtifact(entry) {
			return fmt.Errorf("refusing to use %s as storage area: %s is not a download artifact", dir, entry.Name())
		}
	}

	for _, entry := range entries {
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to clear storage area %s: %w", dir, err)
		}
	}

	if len(entries) > 0 {
		log.Emit(logger.REMOVE, "Cleared %d artifact(s) from previous run\n", len(entries))
	}
	return nil
}

// isArtifact is true for regular files named after a job id.
func isArtifact(entry fs.DirEntry) bool {
	if !entry.Type().IsRegular() {
		return false
	}

	id, _, _ := strings.Cut(entry.Name(), ".")
	_, err := uuid.Parse(id)
	return err == nil
}

func isSidecar(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := sidecarExtensions[ext]
	return ok
}
