package server

import (
	"net/http"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const joinQRSize = 256

// JoinURL 浏览器客户端加入指定房间的公开地址
func (s *Server) JoinURL(roomID string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	return base + "/?room=" + url.QueryEscape(roomID)
}

// HandleJoinQR 返回加入链接的二维码 PNG，便于手机扫码加入
// GET /join.png?room=lobby
func (s *Server) HandleJoinQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(s.JoinURL(s.roomParam(r)), qrcode.Medium, joinQRSize)
	if err != nil {
		Log.Errorw("qr encode failed", "err", err)
		respondError(w, http.StatusInternalServerError, "qr encode failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}
