package server

import (
	"context"
	"sync"
	"time"
)

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	ctx    context.Context
	tuning Tuning
	clock  func() time.Time
	wg     sync.WaitGroup
}

// NewRoomManager 创建管理器；ctx 取消时所有房间循环退出
func NewRoomManager(ctx context.Context, tuning Tuning) *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*Room),
		ctx:    ctx,
		tuning: tuning,
		clock:  time.Now,
	}
}

// GetOrCreateRoom 获取或创建房间，并确保房间循环已启动
func (m *RoomManager) GetOrCreateRoom(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		r = NewRoom(id, m.tuning)
		r.now = m.clock
		m.rooms[id] = r
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			r.Run(m.ctx)
		}()
		Log.Infow("room created", "room", id)
	}
	return r
}

// Lookup 只查询，不创建
func (m *RoomManager) Lookup(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Wait 等待所有房间循环退出
func (m *RoomManager) Wait() {
	m.wg.Wait()
}
