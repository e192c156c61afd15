package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"boxarena/server"
)

// BoxArena 入口：启动 HTTP + WebSocket 服务，并初始化房间管理器
func main() {
	var (
		configPath string
		addr       string
		logFile    string
		staticDir  string
	)
	flag.StringVar(&configPath, "config", "", "optional JSON config file")
	flag.StringVar(&addr, "addr", "", "server listen address, e.g. :3000 (overrides config/env)")
	flag.StringVar(&logFile, "log", "", "log file path (overrides config)")
	flag.StringVar(&staticDir, "static", "", "browser client directory (overrides config)")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if staticDir != "" {
		cfg.StaticDir = staticDir
	}

	if err := server.InitLogger(cfg.LogFile); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rooms := server.NewRoomManager(ctx, cfg.Tuning)
	// 先预创建默认房间
	_ = rooms.GetOrCreateRoom(cfg.DefaultRoom)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewServer(cfg, rooms).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		server.Log.Infof("BoxArena listening on %s; open %s/", cfg.Addr, cfg.PublicURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	rooms.Wait()
}
