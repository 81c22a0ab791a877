package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

func newTestTracker() *Tracker {
	return NewTracker(120*time.Second, time.Minute, zap.NewNop())
}

func TestTracker_DeviceMovesBetweenRooms(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("8", "1", models.DeviceUser, now)
	assert.Equal(t, 1, tr.Count(models.DeviceUser, "1"))

	tr.Observe("8", "2", models.DeviceUser, now.Add(time.Second))
	assert.Equal(t, 0, tr.Count(models.DeviceUser, "1"))
	assert.Equal(t, 1, tr.Count(models.DeviceUser, "2"))
	assert.Equal(t, 1, tr.TrackedDevices())
}

func TestTracker_DeviceChangesType(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("8", "1", models.DeviceUser, now)
	tr.Observe("8", "1", models.DeviceStaff, now.Add(time.Second))

	assert.Equal(t, 0, tr.Count(models.DeviceUser, "1"))
	assert.Equal(t, 1, tr.Count(models.DeviceStaff, "1"))
}

func TestTracker_RedeliveryIsIdempotent(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("8", "1", models.DeviceUser, now)
	tr.Observe("8", "1", models.DeviceUser, now)

	assert.Equal(t, 1, tr.Count(models.DeviceUser, "1"))
	assert.Equal(t, 1, tr.TrackedDevices())
}

func TestTracker_CountsMatchTrackedDevices(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("a", "1", models.DeviceGuard, now)
	tr.Observe("b", "1", models.DeviceGuard, now)
	tr.Observe("c", "2", models.DeviceGuard, now)
	tr.Observe("d", "2", models.DeviceLuggage, now)

	total := tr.Count(models.DeviceGuard, "1") + tr.Count(models.DeviceGuard, "2")
	assert.Equal(t, 3, total)
	assert.Equal(t, 4, tr.TrackedDevices())
}

func TestTracker_SweepExpiresStaleDevices(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("old", "1", models.DeviceUser, now)
	tr.Observe("fresh", "1", models.DeviceUser, now.Add(100*time.Second))

	removed := tr.Sweep(now.Add(121 * time.Second))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Count(models.DeviceUser, "1"))
	assert.Equal(t, 1, tr.TrackedDevices())
}

func TestTracker_SweepDecrementsOnlyOnce(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("8", "1", models.DeviceUser, now)

	assert.Equal(t, 1, tr.Sweep(now.Add(3*time.Minute)))
	assert.Equal(t, 0, tr.Sweep(now.Add(4*time.Minute)))
	assert.Equal(t, 0, tr.Count(models.DeviceUser, "1"))
}

func TestTracker_SweepKeepsDevicesWithinTTL(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Observe("8", "1", models.DeviceUser, now)

	assert.Equal(t, 0, tr.Sweep(now.Add(119*time.Second)))
	assert.Equal(t, 1, tr.Count(models.DeviceUser, "1"))
}

func TestTracker_IgnoresNonTrackableTypes(t *testing.T) {
	tr := newTestTracker()

	tr.Observe("env-1", "101", models.DeviceEnvironment, time.Now())

	assert.Equal(t, 0, tr.TrackedDevices())
}

func TestEnvironmentCache_OverwritesSnapshot(t *testing.T) {
	cache := NewEnvironmentCache()

	cache.Update("101", models.EnvironmentReading{Temperature: 35})
	cache.Update("101", models.EnvironmentReading{Temperature: 25})

	reading, ok := cache.Get("101")
	assert.True(t, ok)
	assert.Equal(t, 25.0, reading.Temperature)
}

func TestEnvironmentCache_MissingRoom(t *testing.T) {
	cache := NewEnvironmentCache()

	_, ok := cache.Get("999")
	assert.False(t, ok)
}
