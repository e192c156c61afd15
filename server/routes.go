package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server 持有 HTTP 层依赖：配置与房间管理器
type Server struct {
	cfg   Config
	rooms *RoomManager
}

func NewServer(cfg Config, rooms *RoomManager) *Server {
	return &Server{cfg: cfg, rooms: rooms}
}

// Routes 挂载 WebSocket、监控、管理接口以及浏览器客户端的静态资源
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.HandleWS)
	r.Get("/metrics", s.HandleMetrics)
	r.Get("/admin/config", s.HandleAdminConfig)
	r.Post("/admin/config", s.HandleAdminConfig)
	r.Get("/join.png", s.HandleJoinQR)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

func (s *Server) roomParam(r *http.Request) string {
	if id := r.URL.Query().Get("room"); id != "" {
		return id
	}
	return s.cfg.DefaultRoom
}

// respondJSON 以 JSON 写出响应
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		Log.Warnw("encode response failed", "err", err)
	}
}

// respondError 统一的错误响应：{"error": message}
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
