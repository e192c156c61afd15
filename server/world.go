package server

// 世界尺寸与平台布局常量（世界坐标，左上角为原点，Y 轴向下）
const (
	WorldWidth     = 960.0
	WorldHeight    = 540.0
	HazardHeight   = 40.0
	LandingHeight  = 20.0
	LandingRatio   = 0.75  // 着陆平台宽度占危险平台宽度的比例
	LandingGap     = 120.0 // 着陆平台顶面高出危险平台顶面的距离
	SpawnClearance = 80.0  // 出生点底部与着陆平台顶面的间隔

	// 死亡玩家被移到世界外，远端不再渲染
	OffworldX = -10000.0
	OffworldY = -10000.0
)

// World 静态世界：危险平台 + 着陆平台 + 出生点，进程生命周期内不变
type World struct {
	Width   float64
	Height  float64
	Hazard  Rect
	Landing Rect
	SpawnX  float64
	SpawnY  float64
}

// NewWorld 由世界宽高一次性推导出全部布局
func NewWorld(width, height float64) World {
	hazard := Rect{X: 0, Y: height - HazardHeight, W: width, H: HazardHeight}
	lw := width * LandingRatio
	landing := Rect{X: (width - lw) / 2, Y: hazard.Y - LandingGap, W: lw, H: LandingHeight}
	return World{
		Width:   width,
		Height:  height,
		Hazard:  hazard,
		Landing: landing,
		SpawnX:  landing.CenterX() - PlayerSize/2,
		SpawnY:  landing.Y - PlayerSize - SpawnClearance,
	}
}

// Contact 玩家与世界接触的分类结果
type Contact int

const (
	ContactNone    Contact = iota
	ContactLanded          // 从上方落到着陆平台
	ContactBumped          // 从下方顶到着陆平台
	ContactLateral         // 侧面撞上着陆平台
	ContactHazard          // 触碰危险平台（由调用方处死）
	ContactFell            // 掉出世界底部（由调用方立即重生，不算死亡）
)

func (c Contact) String() string {
	switch c {
	case ContactLanded:
		return "landed"
	case ContactBumped:
		return "bumped"
	case ContactLateral:
		return "lateral"
	case ContactHazard:
		return "hazard"
	case ContactFell:
		return "fell"
	default:
		return "none"
	}
}

// ResolvePlayer 根据移动前的纵坐标 prevY 对玩家做世界碰撞修正。
// 危险平台优先于一切：任何方向的接触都返回 ContactHazard，位置不做修正。
func (w World) ResolvePlayer(p *Player, prevY float64) Contact {
	p.Grounded = false
	box := p.Box()
	if box.Overlaps(w.Hazard) {
		return ContactHazard
	}
	if p.Y > w.Height {
		return ContactFell
	}
	if !box.Overlaps(w.Landing) {
		return ContactNone
	}
	switch {
	case prevY+p.H <= w.Landing.Y:
		p.Y = w.Landing.Y - p.H
		p.VY = 0
		p.Grounded = true
		return ContactLanded
	case prevY >= w.Landing.Bottom():
		p.Y = w.Landing.Bottom()
		p.VY = 0
		return ContactBumped
	default:
		// 推到最近的侧边
		if box.CenterX() < w.Landing.CenterX() {
			p.X = w.Landing.X - p.W
		} else {
			p.X = w.Landing.Right()
		}
		p.VX = 0
		return ContactLateral
	}
}

// OutOfBounds 判定盒子是否完全离开扩展边界（左右各 100，底部额外 200；顶部不限）
func (w World) OutOfBounds(r Rect) bool {
	return r.Right() < -BoundsMarginX || r.X > w.Width+BoundsMarginX || r.Y > w.Height+BoundsMarginBottom
}
