package server

import (
	"math/rand/v2"
	"strings"
)

const (
	PlayerSize  = 32.0
	MaxNameLen  = 32 // 按字符（rune）计
	guestPrefix = "Guest_"
	guestDigits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// PlayerID 连接级唯一标识，连接存续期内稳定
type PlayerID string

// Player 注册表中的权威玩家状态
type Player struct {
	ID       PlayerID
	X        float64
	Y        float64
	W        float64
	H        float64
	VX       float64
	VY       float64
	Name     string
	Alive    bool
	Grounded bool

	// 每次死亡自增，用于识别过期的重生定时器
	deathEpoch int
}

// PlayerState 广播给客户端的玩家快照
type PlayerState struct {
	ID    string  `json:"id" msgpack:"id"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	W     float64 `json:"w" msgpack:"w"`
	H     float64 `json:"h" msgpack:"h"`
	VX    float64 `json:"vx" msgpack:"vx"`
	VY    float64 `json:"vy" msgpack:"vy"`
	Name  string  `json:"name" msgpack:"name"`
	Alive bool    `json:"alive" msgpack:"alive"`
}

func (p *Player) Box() Rect {
	return Rect{X: p.X, Y: p.Y, W: p.W, H: p.H}
}

func (p *Player) ToState() PlayerState {
	return PlayerState{
		ID:    string(p.ID),
		X:     p.X,
		Y:     p.Y,
		W:     p.W,
		H:     p.H,
		VX:    p.VX,
		VY:    p.VY,
		Name:  p.Name,
		Alive: p.Alive,
	}
}

// NewGuestName 生成 Guest_XXXX，X 为随机大写 36 进制字符
func NewGuestName() string {
	var b strings.Builder
	b.WriteString(guestPrefix)
	for i := 0; i < 4; i++ {
		b.WriteByte(guestDigits[rand.IntN(len(guestDigits))])
	}
	return b.String()
}
