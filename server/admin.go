package server

import (
	"encoding/json"
	"net/http"
)

// HandleAdminConfig 提供房间物理参数的读取与更新（热更新）
// GET /admin/config?room=lobby  返回当前参数
// POST /admin/config?room=lobby 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	roomID := s.roomParam(r)
	room, ok := s.rooms.Lookup(roomID)
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cur, err := room.Tuning()
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		var patch TuningPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json")
			return
		}
		next, err := room.UpdateTuning(&patch)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		Log.Infow("tuning updated", "room", roomID, "gravity", next.Gravity, "boxSpeed", next.BoxSpeed,
			"boxLifetimeMs", next.BoxLifetimeMs, "respawnDelayMs", next.RespawnDelayMs)
		respondJSON(w, http.StatusOK, next)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=lobby
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	roomID := s.roomParam(r)
	room, ok := s.rooms.Lookup(roomID)
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room":    roomID,
		"tick":    room.TickSeq(),
		"metrics": room.Metrics().Snapshot(),
	})
}
