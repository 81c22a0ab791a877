package tracker

import (
	"sync"

	"picowatch-alert/internal/models"
)

// EnvironmentCache 按房间缓存最新环境读数
// 每条环境消息整体覆盖对应房间的快照，不保留历史，也不做过期
// （展示层的陈旧策略属于读取方服务）。
type EnvironmentCache struct {
	mu    sync.RWMutex
	rooms map[string]models.EnvironmentReading
}

// NewEnvironmentCache 创建环境缓存
func NewEnvironmentCache() *EnvironmentCache {
	return &EnvironmentCache{
		rooms: make(map[string]models.EnvironmentReading),
	}
}

// Update 覆盖一个房间的环境快照
func (c *EnvironmentCache) Update(roomID string, reading models.EnvironmentReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = reading
}

// Get 读取一个房间的环境快照
func (c *EnvironmentCache) Get(roomID string) (models.EnvironmentReading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reading, ok := c.rooms[roomID]
	return reading, ok
}
