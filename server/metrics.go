package server

import (
	"sync/atomic"
)

// RoomMetrics 房间运行期指标，任意协程可读
type RoomMetrics struct {
	TickCount       int64 // 统计的 Tick 次数
	InputsAccepted  int64 // 进入房间协程的入站消息
	InputsMalformed int64 // 解码失败或类型未知而丢弃的消息
	InboxDiscarded  int64 // 因输入通道满而丢弃的消息
	SendDiscarded   int64 // 因发送队列满而丢弃的出站帧
	BoxesSpawned    int64
	BoxesExpired    int64
	HazardDeaths    int64
	HandlerPanics   int64 // 单条消息处理时被恢复的 panic
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
	Players         int64 // 最近一次 Tick 时的玩家数
	Boxes           int64 // 最近一次 Tick 时的箱子数
}

func (m *RoomMetrics) IncAccepted()       { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *RoomMetrics) IncMalformed()      { atomic.AddInt64(&m.InputsMalformed, 1) }
func (m *RoomMetrics) IncInboxDiscarded() { atomic.AddInt64(&m.InboxDiscarded, 1) }
func (m *RoomMetrics) IncSendDiscarded()  { atomic.AddInt64(&m.SendDiscarded, 1) }
func (m *RoomMetrics) IncSpawned()        { atomic.AddInt64(&m.BoxesSpawned, 1) }
func (m *RoomMetrics) AddExpired(n int)   { atomic.AddInt64(&m.BoxesExpired, int64(n)) }
func (m *RoomMetrics) IncHazardDeaths()   { atomic.AddInt64(&m.HazardDeaths, 1) }
func (m *RoomMetrics) IncHandlerPanics()  { atomic.AddInt64(&m.HandlerPanics, 1) }
func (m *RoomMetrics) SetPopulation(players, boxes int) {
	atomic.StoreInt64(&m.Players, int64(players))
	atomic.StoreInt64(&m.Boxes, int64(boxes))
}
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":       tick,
		"inputs_accepted":  atomic.LoadInt64(&m.InputsAccepted),
		"inputs_malformed": atomic.LoadInt64(&m.InputsMalformed),
		"inbox_discarded":  atomic.LoadInt64(&m.InboxDiscarded),
		"send_discarded":   atomic.LoadInt64(&m.SendDiscarded),
		"boxes_spawned":    atomic.LoadInt64(&m.BoxesSpawned),
		"boxes_expired":    atomic.LoadInt64(&m.BoxesExpired),
		"hazard_deaths":    atomic.LoadInt64(&m.HazardDeaths),
		"handler_panics":   atomic.LoadInt64(&m.HandlerPanics),
		"players":          atomic.LoadInt64(&m.Players),
		"boxes":            atomic.LoadInt64(&m.Boxes),
		"avg_tick_ms":      avgMs,
	}
}
