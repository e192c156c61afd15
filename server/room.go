package server

import (
	"sync/atomic"
	"time"
)

// Conn 房间视角下的一条客户端连接（只负责发送）
type Conn interface {
	Codec() Codec
	// Enqueue 非阻塞入队，队列满时丢弃并返回 false
	Enqueue(b []byte) bool
	Close()
}

type joinRequest struct {
	id   PlayerID
	conn Conn
	done chan struct{}
}

type tuningRequest struct {
	patch *TuningPatch // nil 表示只读
	reply chan tuningReply
}

type tuningReply struct {
	tuning Tuning
	err    error
}

// respawnTimer 一次性的延迟重生；epoch 不匹配说明玩家已提前重生或再次死亡
type respawnTimer struct {
	at    time.Time
	id    PlayerID
	epoch int
}

// Room 房间世界：权威状态只由房间协程读写，其他协程通过通道投递
type Room struct {
	ID string

	world   World
	tuning  Tuning
	players *Registry
	boxes   *ProjectileSet
	clients map[PlayerID]Conn
	timers  []respawnTimer

	joinChan   chan joinRequest
	inputChan  chan Input
	leaveChan  chan PlayerID
	tuningChan chan tuningRequest
	done       chan struct{}

	now     func() time.Time
	tickSeq atomic.Uint64
	metrics *RoomMetrics
	started atomic.Bool
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, tuning Tuning) *Room {
	world := NewWorld(WorldWidth, WorldHeight)
	return &Room{
		ID:         id,
		world:      world,
		tuning:     tuning,
		players:    NewRegistry(world),
		boxes:      NewProjectileSet(),
		clients:    make(map[PlayerID]Conn),
		joinChan:   make(chan joinRequest),
		inputChan:  make(chan Input, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		leaveChan:  make(chan PlayerID, 64),
		tuningChan: make(chan tuningRequest),
		done:       make(chan struct{}),
		now:        time.Now,
		metrics:    &RoomMetrics{},
	}
}

func (r *Room) Metrics() *RoomMetrics { return r.metrics }
func (r *Room) TickSeq() uint64       { return r.tickSeq.Load() }
func (r *Room) World() World          { return r.world }

// Join 把连接加入房间，阻塞到房间协程处理完毕（新连接会先收到一次完整快照）。
// 房间已停止时返回 false。
func (r *Room) Join(id PlayerID, conn Conn) bool {
	req := joinRequest{id: id, conn: conn, done: make(chan struct{})}
	select {
	case r.joinChan <- req:
	case <-r.done:
		return false
	}
	select {
	case <-req.done:
		return true
	case <-r.done:
		return false
	}
}

// OnInput 入站消息投递：不阻塞，拥塞时丢弃，保证 Tick 准时
func (r *Room) OnInput(in Input) {
	select {
	case r.inputChan <- in:
	default:
		r.metrics.IncInboxDiscarded()
	}
}

// RequestLeave 请求在房间协程中移除玩家，避免并发改动房间状态
func (r *Room) RequestLeave(id PlayerID) {
	select {
	case r.leaveChan <- id:
	case <-r.done:
	}
}

// Tuning 读取当前物理参数
func (r *Room) Tuning() (Tuning, error) {
	return r.UpdateTuning(nil)
}

// UpdateTuning 在房间协程中应用参数补丁，返回生效后的参数
func (r *Room) UpdateTuning(patch *TuningPatch) (Tuning, error) {
	req := tuningRequest{patch: patch, reply: make(chan tuningReply, 1)}
	select {
	case r.tuningChan <- req:
	case <-r.done:
		return Tuning{}, errRoomStopped
	}
	rep := <-req.reply
	return rep.tuning, rep.err
}

func (r *Room) applyTuning(patch *TuningPatch) tuningReply {
	if patch == nil {
		return tuningReply{tuning: r.tuning}
	}
	next, err := r.tuning.Apply(*patch)
	if err != nil {
		return tuningReply{tuning: r.tuning, err: err}
	}
	r.tuning = next
	return tuningReply{tuning: next}
}

// join 新连接进入：创建默认玩家，只向该连接发送当前快照
func (r *Room) join(id PlayerID, conn Conn) {
	p := r.players.Join(id)
	r.clients[id] = conn
	r.sendTo(conn, Envelope{Type: MsgState, Data: r.snapshot()})
	Log.Infow("player joined", "room", r.ID, "player", id, "name", p.Name, "codec", conn.Codec().Name())
}

// leave 断开即删除，不保留宽限期；该玩家的箱子继续存在
func (r *Room) leave(id PlayerID) {
	if conn, ok := r.clients[id]; ok {
		conn.Close()
		delete(r.clients, id)
	}
	if r.players.Remove(id) {
		Log.Infow("player left", "room", r.ID, "player", id)
	}
}

// dispatch 会话协议处理：按消息类型修改注册表/箱子集合
func (r *Room) dispatch(in Input) {
	if _, ok := r.clients[in.PlayerID]; !ok {
		// 已离开的连接：迟到的消息不能复活玩家
		return
	}
	r.metrics.IncAccepted()
	switch in.Type {
	case MsgUpdate:
		r.players.ApplyUpdate(in.PlayerID, in.Update)
	case MsgSetName:
		if !r.players.Rename(in.PlayerID, in.Name) {
			Log.Debugw("rename rejected", "room", r.ID, "player", in.PlayerID)
		}
	case MsgChat:
		r.chat(in.PlayerID, in.Chat)
	case MsgSetDead:
		r.players.MarkDead(in.PlayerID)
	case MsgRespawn:
		r.players.Respawn(in.PlayerID, in.Respawn.X, in.Respawn.Y)
	case MsgSpawnBox:
		owner, _ := r.players.Get(in.PlayerID)
		dx, dy := in.Spawn.Direction()
		if b := r.boxes.Spawn(owner, dx, dy, r.tuning.BoxSpeed, r.now()); b != nil {
			r.metrics.IncSpawned()
		}
	}
}

// chat 转发给所有连接；未提供名字时用玩家当前名字，再退回 "Guest"
func (r *Room) chat(id PlayerID, msg ChatMessage) {
	if msg.Text == "" {
		return
	}
	if msg.Name == "" {
		msg.Name = "Guest"
		if p, ok := r.players.Get(id); ok && p.Name != "" {
			msg.Name = p.Name
		}
	}
	r.broadcast(Envelope{Type: MsgChat, Data: msg})
}

// kill 危险平台致死：移出世界并安排一次延迟重生
func (r *Room) kill(p *Player, now time.Time) {
	if !r.players.MarkDead(p.ID) {
		return
	}
	p.X, p.Y = OffworldX, OffworldY
	p.VX, p.VY = 0, 0
	r.timers = append(r.timers, respawnTimer{
		at:    now.Add(r.tuning.RespawnDelay()),
		id:    p.ID,
		epoch: p.deathEpoch,
	})
	r.metrics.IncHazardDeaths()
	Log.Infow("player hit hazard", "room", r.ID, "player", p.ID, "name", p.Name)
}

// applyContact 处理世界碰撞的致死与掉落结果
func (r *Room) applyContact(p *Player, c Contact, now time.Time) {
	switch c {
	case ContactHazard:
		r.kill(p, now)
	case ContactFell:
		r.players.Respawn(p.ID, nil, nil)
	}
}

// checkHazards 用客户端上报的位置检查所有存活玩家
func (r *Room) checkHazards(now time.Time) {
	r.players.Each(func(p *Player) {
		if !p.Alive {
			return
		}
		switch {
		case p.Box().Overlaps(r.world.Hazard):
			r.applyContact(p, ContactHazard, now)
		case p.Y > r.world.Height:
			r.applyContact(p, ContactFell, now)
		}
	})
}

// fireTimers 触发到期的重生定时器，过期条目直接丢弃
func (r *Room) fireTimers(now time.Time) {
	pending := r.timers[:0]
	for _, t := range r.timers {
		if now.Before(t.at) {
			pending = append(pending, t)
			continue
		}
		p, ok := r.players.Get(t.id)
		if !ok || p.Alive || p.deathEpoch != t.epoch {
			continue
		}
		r.players.Respawn(t.id, nil, nil)
	}
	r.timers = pending
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{Players: r.players.States(), Boxes: r.boxes.States()}
}

func (r *Room) sendTo(conn Conn, env Envelope) {
	b, err := conn.Codec().Marshal(env)
	if err != nil {
		Log.Errorw("encode failed", "room", r.ID, "type", env.Type, "err", err)
		return
	}
	if !conn.Enqueue(b) {
		r.metrics.IncSendDiscarded()
	}
}

// broadcast 每种编码只序列化一次，然后投递给所有连接
func (r *Room) broadcast(env Envelope) {
	frames := make(map[string][]byte, 2)
	for _, conn := range r.clients {
		codec := conn.Codec()
		b, ok := frames[codec.Name()]
		if !ok {
			var err error
			b, err = codec.Marshal(env)
			if err != nil {
				Log.Errorw("encode failed", "room", r.ID, "type", env.Type, "codec", codec.Name(), "err", err)
				continue
			}
			frames[codec.Name()] = b
		}
		if !conn.Enqueue(b) {
			r.metrics.IncSendDiscarded()
		}
	}
}

// shutdown 房间停止时关闭全部连接
func (r *Room) shutdown() {
	for id, conn := range r.clients {
		conn.Close()
		delete(r.clients, id)
	}
}
