package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

// presenceRecord 单个设备的最近位置与类型
type presenceRecord struct {
	roomID     string
	deviceType models.DeviceType
	lastSeen   time.Time
}

// Tracker 在场设备与房间计数跟踪器
// 不变量：一个设备最多出现在一个 (类型, 房间) 计数桶中，
// 桶计数等于当前跟踪到的该类型该房间的设备数，计数为 0 的桶被删除。
type Tracker struct {
	mu       sync.Mutex
	presence map[string]*presenceRecord
	counts   map[models.DeviceType]map[string]int

	ttl           time.Duration // 设备静默超过该时长视为消失
	sweepInterval time.Duration
	logger        *zap.Logger
}

// NewTracker 创建跟踪器
func NewTracker(ttl, sweepInterval time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		presence:      make(map[string]*presenceRecord),
		counts:        make(map[models.DeviceType]map[string]int),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// Observe 处理一条可跟踪设备的读数
// 房间或类型变化时原子地移动计数桶；lastSeen 无条件刷新。
func (t *Tracker) Observe(deviceID, roomID string, deviceType models.DeviceType, now time.Time) {
	if !deviceType.Trackable() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, known := t.presence[deviceID]
	if known && record.roomID == roomID && record.deviceType == deviceType {
		record.lastSeen = now
		return
	}

	if known {
		t.decrement(record.deviceType, record.roomID)
		record.roomID = roomID
		record.deviceType = deviceType
		record.lastSeen = now
	} else {
		t.presence[deviceID] = &presenceRecord{
			roomID:     roomID,
			deviceType: deviceType,
			lastSeen:   now,
		}
	}
	t.increment(deviceType, roomID)

	t.logger.Debug("Device moved",
		zap.String("device_id", deviceID),
		zap.String("room_id", roomID),
		zap.String("device_type", deviceType.String()),
	)
}

// Count 返回某类型某房间的当前计数（无记录时为 0）
func (t *Tracker) Count(deviceType models.DeviceType, roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[deviceType][roomID]
}

// TrackedDevices 当前跟踪的设备总数
func (t *Tracker) TrackedDevices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.presence)
}

// Sweep 移除静默超过 TTL 的设备并回收其计数桶，返回移除数量
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for deviceID, record := range t.presence {
		if now.Sub(record.lastSeen) <= t.ttl {
			continue
		}
		t.decrement(record.deviceType, record.roomID)
		delete(t.presence, deviceID)
		removed++

		t.logger.Info("Device expired",
			zap.String("device_id", deviceID),
			zap.String("room_id", record.roomID),
			zap.String("device_type", record.deviceType.String()),
		)
	}
	return removed
}

// Start 启动后台过期清理循环
func (t *Tracker) Start(ctx context.Context) error {
	t.logger.Info("Presence sweeper started",
		zap.Duration("ttl", t.ttl),
		zap.Duration("sweep_interval", t.sweepInterval),
	)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Presence sweeper stopped")
			return nil
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}

// increment 调用方必须持有 t.mu
func (t *Tracker) increment(deviceType models.DeviceType, roomID string) {
	rooms, ok := t.counts[deviceType]
	if !ok {
		rooms = make(map[string]int)
		t.counts[deviceType] = rooms
	}
	rooms[roomID]++
}

// decrement 调用方必须持有 t.mu；计数归零时删除桶
func (t *Tracker) decrement(deviceType models.DeviceType, roomID string) {
	rooms, ok := t.counts[deviceType]
	if !ok {
		return
	}
	if rooms[roomID] <= 1 {
		delete(rooms, roomID)
		return
	}
	rooms[roomID]--
}
