package server

import "unicode/utf8"

// Registry 连接标识 -> 玩家状态的权威映射。
// 只允许房间协程访问；遍历顺序固定为加入顺序，保证碰撞结果可复现。
type Registry struct {
	players map[PlayerID]*Player
	order   []PlayerID
	spawnX  float64
	spawnY  float64
}

func NewRegistry(world World) *Registry {
	return &Registry{
		players: make(map[PlayerID]*Player),
		spawnX:  world.SpawnX,
		spawnY:  world.SpawnY,
	}
}

// Join 在出生点创建默认玩家；标识已存在时视为重复注册，返回原记录
func (r *Registry) Join(id PlayerID) *Player {
	if p, ok := r.players[id]; ok {
		return p
	}
	p := &Player{
		ID:    id,
		X:     r.spawnX,
		Y:     r.spawnY,
		W:     PlayerSize,
		H:     PlayerSize,
		Name:  NewGuestName(),
		Alive: true,
	}
	r.players[id] = p
	r.order = append(r.order, id)
	return p
}

func (r *Registry) Get(id PlayerID) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

func (r *Registry) Len() int { return len(r.players) }

// ApplyUpdate 只合并提供的字段；未知标识会先重建默认记录。
// 死亡期间的位置上报被忽略，返回 false。
func (r *Registry) ApplyUpdate(id PlayerID, u PositionUpdate) bool {
	p := r.Join(id)
	if !p.Alive {
		return false
	}
	if u.X != nil {
		p.X = *u.X
	}
	if u.Y != nil {
		p.Y = *u.Y
	}
	if u.W != nil {
		p.W = *u.W
	}
	if u.H != nil {
		p.H = *u.H
	}
	return true
}

// Rename 名字为空或超过 MaxNameLen 个字符时静默拒绝
func (r *Registry) Rename(id PlayerID, name string) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLen || !utf8.ValidString(name) {
		return false
	}
	p.Name = name
	return true
}

// MarkDead 标记死亡并推进死亡纪元；已死亡时不重复计数
func (r *Registry) MarkDead(id PlayerID) bool {
	p, ok := r.players[id]
	if !ok || !p.Alive {
		return false
	}
	p.Alive = false
	p.deathEpoch++
	return true
}

// Respawn 恢复存活并清零速度；x/y 缺省时使用出生点对应坐标
func (r *Registry) Respawn(id PlayerID, x, y *float64) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.X, p.Y = r.spawnX, r.spawnY
	if x != nil {
		p.X = *x
	}
	if y != nil {
		p.Y = *y
	}
	p.VX, p.VY = 0, 0
	p.Grounded = false
	p.Alive = true
	return true
}

// Remove 无条件删除
func (r *Registry) Remove(id PlayerID) bool {
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Each 按加入顺序遍历
func (r *Registry) Each(fn func(p *Player)) {
	for _, id := range r.order {
		fn(r.players[id])
	}
}

// States 生成完整的玩家快照
func (r *Registry) States() map[string]PlayerState {
	out := make(map[string]PlayerState, len(r.players))
	for id, p := range r.players {
		out[string(id)] = p.ToState()
	}
	return out
}
