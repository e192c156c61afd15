package server

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// manualClock 手动推进的时钟，房间与测试协程共享
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock { return &manualClock{t: t0} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeConn 记录房间投递的帧
type fakeConn struct {
	mu     sync.Mutex
	codec  Codec
	frames [][]byte
	closed bool
	full   bool
}

func (c *fakeConn) Codec() Codec {
	if c.codec == nil {
		return JSONCodec
	}
	return c.codec
}

func (c *fakeConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, b)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) envelopes(t *testing.T) []wireEnvelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireEnvelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env wireEnvelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("frame is not a json envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

// lastState 最近一次收到的 state 快照
func (c *fakeConn) lastState(t *testing.T) Snapshot {
	t.Helper()
	envs := c.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == MsgState {
			var s Snapshot
			if err := json.Unmarshal(envs[i].Data, &s); err != nil {
				t.Fatalf("decode state: %v", err)
			}
			return s
		}
	}
	t.Fatal("no state frame received")
	return Snapshot{}
}

func newTestRoom() (*Room, *manualClock) {
	clock := newManualClock()
	r := NewRoom("test", DefaultTuning())
	r.now = clock.Now
	return r, clock
}

func TestRoomJoinSendsSnapshotToNewConnOnly(t *testing.T) {
	r, _ := newTestRoom()
	a := &fakeConn{}
	r.join("a", a)

	if n := len(a.envelopes(t)); n != 1 {
		t.Fatalf("a received %d frames, want 1", n)
	}
	s := a.lastState(t)
	if len(s.Players) != 1 || !guestNameRe.MatchString(s.Players["a"].Name) {
		t.Errorf("initial state = %+v", s.Players)
	}

	b := &fakeConn{}
	r.join("b", b)
	if n := len(a.envelopes(t)); n != 1 {
		t.Errorf("join of b must not broadcast, a has %d frames", n)
	}
	if s := b.lastState(t); len(s.Players) != 2 {
		t.Errorf("b initial state has %d players, want 2", len(s.Players))
	}

	r.tick(t0)
	if s := a.lastState(t); len(s.Players) != 2 {
		t.Errorf("broadcast has %d players, want 2", len(s.Players))
	}
}

func TestRoomUpdateAndRenameAppearInNextBroadcast(t *testing.T) {
	r, _ := newTestRoom()
	a, b := &fakeConn{}, &fakeConn{}
	r.join("a", a)
	r.join("b", b)

	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{X: f64(100), Y: f64(50), W: f64(32), H: f64(32)}})
	r.dispatch(Input{PlayerID: "a", Type: MsgSetName, Name: "Zed"})
	r.tick(t0)

	got := b.lastState(t).Players["a"]
	if got.X != 100 || got.Y != 50 || got.Name != "Zed" {
		t.Errorf("a as seen by b = %+v", got)
	}
}

func TestRoomChatBroadcastDefaultsName(t *testing.T) {
	r, _ := newTestRoom()
	a, b := &fakeConn{}, &fakeConn{}
	r.join("a", a)
	r.join("b", b)
	r.players.Rename("a", "Zed")

	r.dispatch(Input{PlayerID: "a", Type: MsgChat, Chat: ChatMessage{Text: "hello"}})
	r.dispatch(Input{PlayerID: "b", Type: MsgChat, Chat: ChatMessage{Name: "Custom", Text: "yo"}})
	r.dispatch(Input{PlayerID: "b", Type: MsgChat, Chat: ChatMessage{}})

	for _, conn := range []*fakeConn{a, b} {
		var chats []ChatMessage
		for _, env := range conn.envelopes(t) {
			if env.Type != MsgChat {
				continue
			}
			var m ChatMessage
			if err := json.Unmarshal(env.Data, &m); err != nil {
				t.Fatal(err)
			}
			chats = append(chats, m)
		}
		if len(chats) != 2 {
			t.Fatalf("received %d chats, want 2", len(chats))
		}
		if chats[0] != (ChatMessage{Name: "Zed", Text: "hello"}) || chats[1] != (ChatMessage{Name: "Custom", Text: "yo"}) {
			t.Errorf("chats = %+v", chats)
		}
	}
}

func TestRoomLeaveRemovesPlayerAndIgnoresLateInput(t *testing.T) {
	r, _ := newTestRoom()
	a, b := &fakeConn{}, &fakeConn{}
	r.join("a", a)
	r.join("b", b)

	r.leave("a")
	if !a.closed {
		t.Error("leaving connection should be closed")
	}
	r.tick(t0)
	s := b.lastState(t)
	if _, ok := s.Players["a"]; ok || len(s.Players) != 1 {
		t.Errorf("snapshot after leave = %+v", s.Players)
	}

	// 断开后的迟到消息不能复活玩家
	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{X: f64(1)}})
	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox})
	if _, ok := r.players.Get("a"); ok {
		t.Error("late update resurrected a removed player")
	}
	if r.boxes.Len() != 0 {
		t.Error("late spawn created a box")
	}
}

func TestRoomHazardDeathAndDelayedRespawn(t *testing.T) {
	r, clock := newTestRoom()
	a := &fakeConn{}
	r.join("a", a)
	p, _ := r.players.Get("a")

	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{X: f64(40), Y: f64(r.world.Hazard.Y - 10)}})
	r.tick(clock.Now())

	if p.Alive {
		t.Fatal("player touching hazard should be dead")
	}
	if p.X != OffworldX || p.Y != OffworldY {
		t.Errorf("dead player at (%v,%v), want off-world", p.X, p.Y)
	}
	if got := r.metrics.HazardDeaths; got != 1 {
		t.Errorf("deaths = %d, want 1", got)
	}

	// 死亡期间的位置上报被忽略，不会再次触发死亡
	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{Y: f64(r.world.Hazard.Y)}})
	clock.Advance(5 * time.Second)
	r.tick(clock.Now())
	if r.metrics.HazardDeaths != 1 || p.Y != OffworldY {
		t.Error("dead player must not die again or move")
	}

	clock.Advance(4999 * time.Millisecond)
	r.tick(clock.Now())
	if p.Alive {
		t.Fatal("respawned before the delay elapsed")
	}

	clock.Advance(time.Millisecond)
	r.tick(clock.Now())
	if !p.Alive {
		t.Fatal("player should be alive after the respawn delay")
	}
	if p.X != r.world.SpawnX || p.Y != r.world.SpawnY || p.VX != 0 || p.VY != 0 {
		t.Errorf("respawned at (%v,%v) v=(%v,%v)", p.X, p.Y, p.VX, p.VY)
	}
	if len(r.timers) != 0 {
		t.Errorf("%d timers still pending", len(r.timers))
	}
}

func TestRoomStaleRespawnTimerIsDiscarded(t *testing.T) {
	r, clock := newTestRoom()
	r.join("a", &fakeConn{})
	p, _ := r.players.Get("a")

	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{Y: f64(r.world.Hazard.Y)}})
	r.tick(clock.Now())

	// 客户端提前重生到指定位置
	r.dispatch(Input{PlayerID: "a", Type: MsgRespawn, Respawn: RespawnRequest{X: f64(200), Y: f64(100)}})
	if !p.Alive || p.X != 200 || p.Y != 100 {
		t.Fatalf("client respawn = %+v", p)
	}
	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{X: f64(250)}})

	clock.Advance(10 * time.Second)
	r.tick(clock.Now())
	if p.X != 250 {
		t.Errorf("stale timer moved the player to x=%v", p.X)
	}
}

func TestRoomFallingOffRespawnsImmediately(t *testing.T) {
	r, clock := newTestRoom()
	r.join("a", &fakeConn{})
	p, _ := r.players.Get("a")

	r.dispatch(Input{PlayerID: "a", Type: MsgUpdate, Update: PositionUpdate{Y: f64(r.world.Height + 10)}})
	r.tick(clock.Now())
	if !p.Alive || p.X != r.world.SpawnX || p.Y != r.world.SpawnY {
		t.Errorf("after fall player = %+v", p)
	}
	if r.metrics.HazardDeaths != 0 {
		t.Error("falling off is not a death")
	}
}

func TestRoomClientReportedDeathBlocksSpawn(t *testing.T) {
	r, _ := newTestRoom()
	r.join("a", &fakeConn{})

	r.dispatch(Input{PlayerID: "a", Type: MsgSetDead})
	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox})
	if r.boxes.Len() != 0 {
		t.Error("dead player must not spawn boxes")
	}

	r.dispatch(Input{PlayerID: "a", Type: MsgRespawn})
	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox})
	if r.boxes.Len() != 1 {
		t.Error("respawned player should spawn a box")
	}
}

func TestRoomBoxExpiresAfterLifetime(t *testing.T) {
	r, clock := newTestRoom()
	a := &fakeConn{}
	r.join("a", a)

	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox, Spawn: SpawnRequest{DX: f64(1), DY: f64(-0.2)}})
	clock.Advance(50 * time.Millisecond)
	r.tick(clock.Now())
	s := a.lastState(t)
	if len(s.Boxes) != 1 {
		t.Fatalf("boxes = %d, want 1", len(s.Boxes))
	}
	for _, b := range s.Boxes {
		if b.Owner != "a" {
			t.Errorf("owner = %q", b.Owner)
		}
	}

	// 拥有者离开后箱子继续模拟
	r.join("b", &fakeConn{})
	r.leave("a")
	clock.Advance(time.Second)
	r.tick(clock.Now())
	if r.boxes.Len() != 1 {
		t.Error("box should outlive its owner")
	}

	clock.Advance(9 * time.Second)
	r.tick(clock.Now())
	if r.boxes.Len() != 0 {
		t.Error("box older than its lifetime should be removed")
	}
	if r.metrics.BoxesSpawned != 1 || r.metrics.BoxesExpired != 1 {
		t.Errorf("spawned=%d expired=%d", r.metrics.BoxesSpawned, r.metrics.BoxesExpired)
	}
}

func TestRoomPushIntoHazardKills(t *testing.T) {
	r, clock := newTestRoom()
	r.join("a", &fakeConn{})
	p, _ := r.players.Get("a")
	// 站在危险平台上方一点点，箱子的向下扰动把玩家推进去
	p.X, p.Y = 40, r.world.Hazard.Y-PlayerSize-1
	addBox(r.boxes, &Projectile{ID: "b", X: 40, Y: p.Y - 60, VY: 59.5, Born: clock.Now()})

	r.tick(clock.Now())
	if p.Alive {
		t.Error("player pushed into the hazard should die")
	}
}

func TestRoomMsgpackClientsReceiveBinaryFrames(t *testing.T) {
	r, _ := newTestRoom()
	j := &fakeConn{}
	m := &fakeConn{codec: MsgpackCodec}
	r.join("j", j)
	r.join("m", m)
	r.tick(t0)

	var env struct {
		Type string   `msgpack:"type"`
		Data Snapshot `msgpack:"data"`
	}
	last := m.frames[len(m.frames)-1]
	if err := msgpack.Unmarshal(last, &env); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	if env.Type != MsgState || len(env.Data.Players) != 2 {
		t.Errorf("msgpack state = %+v", env)
	}
	if s := j.lastState(t); len(s.Players) != 2 {
		t.Errorf("json state has %d players", len(s.Players))
	}
}

func TestRoomCountsSendDrops(t *testing.T) {
	r, _ := newTestRoom()
	r.join("a", &fakeConn{full: true})
	r.tick(t0)
	if r.metrics.SendDiscarded != 2 {
		t.Errorf("send drops = %d, want 2", r.metrics.SendDiscarded)
	}
}

func TestRoomSafelyRecoversPanics(t *testing.T) {
	r, _ := newTestRoom()
	r.safely("boom", func() { panic("boom") })
	if r.metrics.HandlerPanics != 1 {
		t.Errorf("panics = %d, want 1", r.metrics.HandlerPanics)
	}
}

func TestRoomRunLifecycle(t *testing.T) {
	r, _ := newTestRoom()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	a := &fakeConn{}
	if !r.Join("a", a) {
		t.Fatal("join should succeed on a running room")
	}
	speed := 5.0
	next, err := r.UpdateTuning(&TuningPatch{BoxSpeed: &speed})
	if err != nil || next.BoxSpeed != 5 {
		t.Errorf("tuning = %+v, err = %v", next, err)
	}
	cur, err := r.Tuning()
	if err != nil || cur.BoxSpeed != 5 {
		t.Errorf("tuning = %+v, err = %v", cur, err)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("room loop did not stop")
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if !closed {
		t.Error("shutdown should close connections")
	}
	if r.Join("b", &fakeConn{}) {
		t.Error("join on a stopped room should fail")
	}
	if _, err := r.Tuning(); err == nil {
		t.Error("tuning on a stopped room should fail")
	}
	r.RequestLeave("a") // must not block
}

func TestRoomHugeSpawnDirectionKeepsBroadcasting(t *testing.T) {
	r, clock := newTestRoom()
	a, b := &fakeConn{}, &fakeConn{}
	r.join("a", a)
	r.join("b", b)

	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox, Spawn: SpawnRequest{DX: f64(0), DY: f64(-1e307)}})
	r.dispatch(Input{PlayerID: "a", Type: MsgSpawnBox, Spawn: SpawnRequest{DX: f64(0), DY: f64(-5e306)}})
	before := len(b.envelopes(t))
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Millisecond)
		r.tick(clock.Now())
	}
	if got := len(b.envelopes(t)) - before; got != 3 {
		t.Fatalf("b received %d state frames over 3 ticks, want 3", got)
	}
	for id, box := range b.lastState(t).Boxes {
		if math.IsInf(box.Y, 0) || math.IsInf(box.VY, 0) {
			t.Errorf("box %s is not finite: %+v", id, box)
		}
	}
}

func TestRoomMalformedDirectionStillSpawns(t *testing.T) {
	r, _ := newTestRoom()
	r.join("a", &fakeConn{})
	in, err := DecodeInput(JSONCodec, "a", []byte(`{"type":"spawnBox","data":{"dx":"left","dy":-0.5}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r.dispatch(in)
	if r.boxes.Len() != 1 {
		t.Fatalf("boxes = %d, want 1", r.boxes.Len())
	}
	for _, id := range r.boxes.order {
		box, _ := r.boxes.Get(id)
		if box.VX != DefaultDirX*r.tuning.BoxSpeed || box.VY != -0.5*r.tuning.BoxSpeed {
			t.Errorf("velocity = (%v,%v)", box.VX, box.VY)
		}
	}
}
