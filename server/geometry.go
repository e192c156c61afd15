package server

// Rect 轴对齐包围盒，(X,Y) 为左上角
type Rect struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	W float64 `json:"w" msgpack:"w"`
	H float64 `json:"h" msgpack:"h"`
}

// Overlaps 严格相交判定，仅接触边缘不算重叠
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W && r.X+r.W > o.X && r.Y < o.Y+o.H && r.Y+r.H > o.Y
}

// 中心与边界坐标
func (r Rect) CenterX() float64 { return r.X + r.W/2 }
func (r Rect) CenterY() float64 { return r.Y + r.H/2 }
func (r Rect) Bottom() float64  { return r.Y + r.H }
func (r Rect) Right() float64   { return r.X + r.W }
