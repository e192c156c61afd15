package server

import (
	"context"
	"errors"
	"time"
)

var errRoomStopped = errors.New("room stopped")

// Run 房间主循环（单协程推进世界）：Tick 与入站消息串行执行，ctx 取消后退出
func (r *Room) Run(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	defer close(r.done)

	ticker := time.NewTicker(r.tuning.TickInterval())
	defer ticker.Stop()
	Log.Infow("room loop started", "room", r.ID, "tps", r.tuning.TickRate)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			Log.Infow("room loop stopped", "room", r.ID, "ticks", r.TickSeq())
			return
		case <-ticker.C:
			// 不做补帧：超时的 Tick 之后，下一次 Tick 尽快触发
			r.safely("tick", func() { r.tick(r.now()) })
		case req := <-r.joinChan:
			r.safely("join", func() { r.join(req.id, req.conn) })
			close(req.done)
		case in := <-r.inputChan:
			r.safely(in.Type, func() { r.dispatch(in) })
		case id := <-r.leaveChan:
			r.safely("leave", func() { r.leave(id) })
		case req := <-r.tuningChan:
			req.reply <- r.applyTuning(req.patch)
		}
	}
}

// tick 重生定时器 -> 箱子积分与碰撞 -> 危险检测 -> 广播完整快照
func (r *Room) tick(now time.Time) {
	start := time.Now()
	r.tickSeq.Add(1)

	r.fireTimers(now)
	res := r.boxes.Step(now, r.tuning, r.world, r.players, func(p *Player, prevY float64) {
		r.applyContact(p, r.world.ResolvePlayer(p, prevY), now)
	})
	r.metrics.AddExpired(res.Expired)
	r.checkHazards(now)
	r.broadcast(Envelope{Type: MsgState, Data: r.snapshot()})

	r.metrics.SetPopulation(r.players.Len(), r.boxes.Len())
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}

// safely 单条消息或单次 Tick 的 panic 不能拖垮整个房间
func (r *Room) safely(stage string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncHandlerPanics()
			Log.Errorw("recovered panic in room loop", "room", r.ID, "stage", stage, "panic", rec)
		}
	}()
	fn()
}
