package server

import (
	"math"
	"strconv"
	"time"
)

const (
	BoxSize        = 32.0
	BoxSpawnOffset = 24.0 // 生成时沿方向偏离玩家中心的距离

	// 未提供或格式错误时的默认方向：向右略向上
	DefaultDirX = 1.0
	DefaultDirY = -0.2

	BoundsMarginX      = 100.0
	BoundsMarginBottom = 200.0

	LandingFriction   = 0.6  // 落在平台上时水平速度衰减
	WallBounce        = -0.3 // 侧面撞平台时水平速度反向衰减
	PushFactor        = 1.2  // 撞击玩家时的水平推力系数
	NudgeCap          = 6.0
	NudgeFactor       = 0.15
	PushPositionScale = 0.6 // 推力同时作用到位置的比例，便于立即可见
	HitDamping        = 0.5
)

// Projectile 玩家抛出的箱子，服务端积分物理
type Projectile struct {
	ID    string
	Owner PlayerID // 弱引用：拥有者断开后箱子继续模拟
	X     float64
	Y     float64
	W     float64
	H     float64
	VX    float64
	VY    float64
	Born  time.Time
}

// ProjectileState 广播给客户端的箱子快照
type ProjectileState struct {
	ID    string  `json:"id" msgpack:"id"`
	Owner string  `json:"owner" msgpack:"owner"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	W     float64 `json:"w" msgpack:"w"`
	H     float64 `json:"h" msgpack:"h"`
	VX    float64 `json:"vx" msgpack:"vx"`
	VY    float64 `json:"vy" msgpack:"vy"`
}

func (b *Projectile) Box() Rect {
	return Rect{X: b.X, Y: b.Y, W: b.W, H: b.H}
}

func (b *Projectile) ToState() ProjectileState {
	return ProjectileState{
		ID:    b.ID,
		Owner: string(b.Owner),
		X:     b.X,
		Y:     b.Y,
		W:     b.W,
		H:     b.H,
		VX:    b.VX,
		VY:    b.VY,
	}
}

// ProjectileSet 箱子标识 -> 箱子，按生成顺序遍历
type ProjectileSet struct {
	boxes map[string]*Projectile
	order []string
}

func NewProjectileSet() *ProjectileSet {
	return &ProjectileSet{boxes: make(map[string]*Projectile)}
}

func (s *ProjectileSet) Len() int { return len(s.boxes) }

func (s *ProjectileSet) Get(id string) (*Projectile, bool) {
	b, ok := s.boxes[id]
	return b, ok
}

// Spawn 从拥有者中心沿方向生成箱子，速度为 (dx*speed, dy*speed)，不做归一化。
// 拥有者为空或已死亡时拒绝，返回 nil。方向过大导致溢出时按默认方向处理。
func (s *ProjectileSet) Spawn(owner *Player, dx, dy, speed float64, now time.Time) *Projectile {
	if owner == nil || !owner.Alive {
		return nil
	}
	b := placeBox(owner, dx, dy, speed)
	if !b.finite() {
		b = placeBox(owner, DefaultDirX, DefaultDirY, speed)
	}
	if !b.finite() {
		return nil
	}
	b.ID = s.nextID(owner.ID, now)
	b.Born = now
	s.boxes[b.ID] = b
	s.order = append(s.order, b.ID)
	return b
}

func placeBox(owner *Player, dx, dy, speed float64) *Projectile {
	box := owner.Box()
	return &Projectile{
		Owner: owner.ID,
		X:     box.CenterX() + dx*BoxSpawnOffset - BoxSize/2,
		Y:     box.CenterY() + dy*BoxSpawnOffset - BoxSize/2,
		W:     BoxSize,
		H:     BoxSize,
		VX:    dx * speed,
		VY:    dy * speed,
	}
}

// finite 位置与速度都是有限数；否则无法编码进快照
func (b *Projectile) finite() bool {
	for _, v := range [...]float64{b.X, b.Y, b.VX, b.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// nextID 拥有者 + 毫秒时间戳；同一毫秒内重复时追加序号
func (s *ProjectileSet) nextID(owner PlayerID, now time.Time) string {
	base := string(owner) + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	id := base
	for n := 2; ; n++ {
		if _, taken := s.boxes[id]; !taken {
			return id
		}
		id = base + "-" + strconv.Itoa(n)
	}
}

// StepResult 单次积分的统计
type StepResult struct {
	Expired int
	Hits    int
}

// Step 推进一个 Tick：重力 -> 积分 -> 过期/越界/溢出移除 -> 着陆平台 -> 逐个存活玩家。
// 同一 Tick 内箱子可连续撞多个玩家，每次撞击都会改变箱子，
// 因此结果依赖玩家遍历顺序（加入顺序）。
// onPush 在玩家被推动后立即调用，参数为推动前的纵坐标。
func (s *ProjectileSet) Step(now time.Time, t Tuning, w World, players *Registry, onPush func(p *Player, prevY float64)) StepResult {
	var res StepResult
	lifetime := t.BoxLifetime()
	kept := make([]string, 0, len(s.order))
	for _, id := range s.order {
		b := s.boxes[id]
		prevX, prevY := b.X, b.Y

		b.VY += t.Gravity
		b.X += b.VX
		b.Y += b.VY

		if now.Sub(b.Born) > lifetime || !b.finite() || w.OutOfBounds(b.Box()) {
			delete(s.boxes, id)
			res.Expired++
			continue
		}
		kept = append(kept, id)

		if b.Box().Overlaps(w.Landing) {
			b.settle(w.Landing, prevX, prevY)
		}

		players.Each(func(p *Player) {
			if !p.Alive || !b.Box().Overlaps(p.Box()) {
				return
			}
			pushedFrom := p.Y
			b.push(p)
			res.Hits++
			if onPush != nil {
				onPush(p, pushedFrom)
			}
		})
	}
	s.order = kept
	return res
}

// settle 着陆平台碰撞：上一位置在平台上方则停在顶面，
// 否则撤销本 Tick 的水平位移并反向衰减水平速度
func (b *Projectile) settle(platform Rect, prevX, prevY float64) {
	if prevY+b.H <= platform.Y {
		b.Y = platform.Y - b.H
		b.VY = 0
		b.VX *= LandingFriction
		return
	}
	b.X = prevX
	b.VX *= WallBounce
}

// push 对玩家施加水平推力与向下的小幅扰动，并把箱子沿水平方向分离
func (b *Projectile) push(p *Player) {
	pushX := b.VX * PushFactor
	nudge := math.Min(NudgeCap, NudgeFactor*math.Abs(b.VY))
	p.VX += pushX
	p.VY += nudge
	p.X += pushX * PushPositionScale
	p.Y += nudge * PushPositionScale

	if b.Box().CenterX() < p.Box().CenterX() {
		b.X = p.X - b.W
	} else {
		b.X = p.X + p.W
	}
	b.VX *= HitDamping
	b.VY *= HitDamping
}

// States 生成完整的箱子快照
func (s *ProjectileSet) States() map[string]ProjectileState {
	out := make(map[string]ProjectileState, len(s.boxes))
	for id, b := range s.boxes {
		out[id] = b.ToState()
	}
	return out
}
