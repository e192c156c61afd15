package server

import (
	"errors"
	"fmt"
	"math"
)

// 客户端 -> 服务端
const (
	MsgUpdate   = "update"
	MsgSetName  = "setName"
	MsgChat     = "chat"
	MsgSetDead  = "setDead"
	MsgRespawn  = "respawn"
	MsgSpawnBox = "spawnBox"
)

// 服务端 -> 客户端
const (
	MsgState = "state"
)

var errUnknownMessage = errors.New("unknown message type")

// Envelope 双向统一外壳：{"type": ..., "data": ...}
type Envelope struct {
	Type string `json:"type" msgpack:"type"`
	Data any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

// PositionUpdate update 消息，全部字段可选
type PositionUpdate struct {
	X *float64 `json:"x" msgpack:"x"`
	Y *float64 `json:"y" msgpack:"y"`
	W *float64 `json:"w" msgpack:"w"`
	H *float64 `json:"h" msgpack:"h"`
}

// ChatMessage chat 消息（入站 name 可选，出站总是带 name）
type ChatMessage struct {
	Name string `json:"name" msgpack:"name"`
	Text string `json:"text" msgpack:"text"`
}

// RespawnRequest respawn 消息，坐标可选
type RespawnRequest struct {
	X *float64 `json:"x" msgpack:"x"`
	Y *float64 `json:"y" msgpack:"y"`
}

// SpawnRequest spawnBox 消息，方向分量可选
type SpawnRequest struct {
	DX *float64 `json:"dx" msgpack:"dx"`
	DY *float64 `json:"dy" msgpack:"dy"`
}

// Direction 返回抛出方向，缺失或非有限数的分量取默认值
func (s SpawnRequest) Direction() (float64, float64) {
	dx, dy := DefaultDirX, DefaultDirY
	if v := finite(s.DX); v != nil {
		dx = *v
	}
	if v := finite(s.DY); v != nil {
		dy = *v
	}
	return dx, dy
}

// Snapshot state 消息载荷
type Snapshot struct {
	Players map[string]PlayerState     `json:"players" msgpack:"players"`
	Boxes   map[string]ProjectileState `json:"boxes" msgpack:"boxes"`
}

// Input 已解码的入站消息，由房间协程分发
type Input struct {
	PlayerID PlayerID
	Type     string
	Update   PositionUpdate
	Name     string
	Chat     ChatMessage
	Respawn  RespawnRequest
	Spawn    SpawnRequest
}

// DecodeInput 按连接的编解码器解析一帧；未知类型或字段类型不符时返回错误，由调用方丢弃。
// respawn/spawnBox 的坐标宽松解析，格式错误的分量按缺失处理。
func DecodeInput(c Codec, id PlayerID, raw []byte) (Input, error) {
	typ, data, err := c.DecodeEnvelope(raw)
	if err != nil {
		return Input{}, fmt.Errorf("decode envelope: %w", err)
	}
	in := Input{PlayerID: id, Type: typ}
	var target any
	switch typ {
	case MsgUpdate:
		target = &in.Update
	case MsgSetName:
		if len(data) == 0 {
			return Input{}, fmt.Errorf("%s: missing name", typ)
		}
		target = &in.Name
	case MsgChat:
		target = &in.Chat
	case MsgSetDead:
		return in, nil
	case MsgRespawn:
		nums := looseNumbers(c, data)
		in.Respawn = RespawnRequest{X: nums["x"], Y: nums["y"]}
		return in, nil
	case MsgSpawnBox:
		nums := looseNumbers(c, data)
		in.Spawn = SpawnRequest{DX: nums["dx"], DY: nums["dy"]}
		return in, nil
	default:
		return Input{}, fmt.Errorf("%w: %q", errUnknownMessage, typ)
	}
	if len(data) > 0 {
		if err := c.Unmarshal(data, target); err != nil {
			return Input{}, fmt.Errorf("%s payload: %w", typ, err)
		}
	}
	in.Update = PositionUpdate{X: finite(in.Update.X), Y: finite(in.Update.Y), W: finite(in.Update.W), H: finite(in.Update.H)}
	return in, nil
}

// finite 把 NaN/Inf 视为缺失
func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// looseNumbers 宽松解析坐标类载荷：只保留有限数字段，
// 载荷本身或单个字段格式错误时视为缺失，由调用方取默认值
func looseNumbers(c Codec, data []byte) map[string]*float64 {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]any
	if err := c.Unmarshal(data, &fields); err != nil {
		return nil
	}
	out := make(map[string]*float64, len(fields))
	for k, v := range fields {
		if f, ok := toFloat(v); ok {
			out[k] = finite(&f)
		}
	}
	return out
}

// toFloat JSON 数字统一为 float64，msgpack 可能解出任意宽度的整数或 float32
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
