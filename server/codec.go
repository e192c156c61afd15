package server

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 连接级线协议编码：JSON 走文本帧，msgpack 走二进制帧
type Codec interface {
	Name() string
	FrameType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// DecodeEnvelope 解出消息类型与尚未解析的载荷
	DecodeEnvelope(raw []byte) (string, []byte, error)
}

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecByName ?codec= 参数解析，未知值回落到 JSON
func CodecByName(name string) Codec {
	switch strings.ToLower(name) {
	case "msgpack", "mp":
		return MsgpackCodec
	default:
		return JSONCodec
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) FrameType() int                     { return websocket.TextMessage }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) DecodeEnvelope(raw []byte) (string, []byte, error) {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if string(env.Data) == "null" {
		env.Data = nil
	}
	return env.Type, env.Data, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) FrameType() int                     { return websocket.BinaryMessage }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (msgpackCodec) DecodeEnvelope(raw []byte) (string, []byte, error) {
	var env struct {
		Type string             `msgpack:"type"`
		Data msgpack.RawMessage `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	// 0xc0 为 msgpack nil
	if len(env.Data) == 1 && env.Data[0] == 0xc0 {
		env.Data = nil
	}
	return env.Type, env.Data, nil
}
