package release_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/internal/event"
	"github.com/hbomb79/Grab/internal/release"
	"github.com/hbomb79/Grab/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

type fixture struct {
	registry *download.Registry
	area     *storage.Area
	bus      event.EventCoordinator
}

func newFixture(t *testing.T) *fixture {
	dir := fs.NewDir(t, "grab-release")
	area, err := storage.New(storage.Config{Path: filepath.Join(dir.Path(), "area")})
	require.NoError(t, err)

	return &fixture{registry: download.NewRegistry(), area: area, bus: event.New()}
}

func (f *fixture) addJob(t *testing.T) uuid.UUID {
	id := uuid.New()
	_, err := f.registry.Create(id, download.Request{URL: "https://y/v"})
	require.NoError(t, err)

	for _, ext := range []string{"mp4", "webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.area.Path(), id.String()+"."+ext), []byte("x"), 0o644))
	}

	return id
}

func Test_Release_RemovesJobAndArtifactsAfterDelay(t *testing.T) {
	f := newFixture(t)
	id := f.addJob(t)

	var removedEvents atomic.Int32
	f.bus.RegisterHandlerFunction(event.DOWNLOAD_REMOVED, func(event.Event, event.Payload) { removedEvents.Add(1) })

	releaser := release.New(release.Config{Delay: 50 * time.Millisecond}, f.registry, f.area, f.bus)
	assert.True(t, releaser.Release(id))

	// Nothing is removed until the delay has elapsed.
	assert.True(t, f.registry.Has(id))
	assert.Len(t, f.area.ListArtifacts(id.String()), 2)

	require.Eventually(t, func() bool { return !f.registry.Has(id) }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.area.ListArtifacts(id.String()))
	assert.False(t, releaser.Pending(id))
	assert.Equal(t, int32(1), removedEvents.Load())

	_, err := f.registry.Get(id)
	assert.ErrorIs(t, err, download.ErrJobNotFound)
}

func Test_Release_IsNoOpWhenPending(t *testing.T) {
	f := newFixture(t)
	id := f.addJob(t)

	releaser := release.New(release.Config{Delay: time.Hour}, f.registry, f.area, f.bus)
	t.Cleanup(releaser.Stop)

	assert.True(t, releaser.Release(id))
	assert.False(t, releaser.Release(id), "second release must not schedule another timer")
	assert.True(t, releaser.Pending(id))
}

func Test_Release_IsNoOpForUnknownJob(t *testing.T) {
	f := newFixture(t)
	releaser := release.New(release.Config{Delay: time.Millisecond}, f.registry, f.area, f.bus)

	id := uuid.New()
	assert.False(t, releaser.Release(id))
	assert.False(t, releaser.Pending(id))
}

func Test_Stop_CancelsPendingReleases(t *testing.T) {
	f := newFixture(t)
	id := f.addJob(t)

	releaser := release.New(release.Config{Delay: 50 * time.Millisecond}, f.registry, f.area, f.bus)
	require.True(t, releaser.Release(id))
	releaser.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.True(t, f.registry.Has(id))
	assert.Len(t, f.area.ListArtifacts(id.String()), 2)
	assert.False(t, releaser.Pending(id))
}
