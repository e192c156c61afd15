package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Tuning 房间物理参数，可通过 /admin/config 热更新（TickRate 除外）
type Tuning struct {
	Gravity        float64 `json:"gravity"`
	BoxSpeed       float64 `json:"boxSpeed"`
	BoxLifetimeMs  int     `json:"boxLifetimeMs"`
	RespawnDelayMs int     `json:"respawnDelayMs"`
	TickRate       int     `json:"tickRate"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Gravity:        0.5,
		BoxSpeed:       30,
		BoxLifetimeMs:  10000,
		RespawnDelayMs: 10000,
		TickRate:       20,
	}
}

func (t Tuning) BoxLifetime() time.Duration {
	return time.Duration(t.BoxLifetimeMs) * time.Millisecond
}

func (t Tuning) RespawnDelay() time.Duration {
	return time.Duration(t.RespawnDelayMs) * time.Millisecond
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRate)
}

func (t Tuning) Validate() error {
	var errs []error
	if t.BoxLifetimeMs <= 0 {
		errs = append(errs, fmt.Errorf("boxLifetimeMs must be positive, got %d", t.BoxLifetimeMs))
	}
	if t.RespawnDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("respawnDelayMs must be positive, got %d", t.RespawnDelayMs))
	}
	if t.TickRate <= 0 || t.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("tickRate must be in (0,1000], got %d", t.TickRate))
	}
	return errors.Join(errs...)
}

// TuningPatch 部分更新，nil 字段保持不变
type TuningPatch struct {
	Gravity        *float64 `json:"gravity,omitempty"`
	BoxSpeed       *float64 `json:"boxSpeed,omitempty"`
	BoxLifetimeMs  *int     `json:"boxLifetimeMs,omitempty"`
	RespawnDelayMs *int     `json:"respawnDelayMs,omitempty"`
}

// Apply 返回打补丁后的参数；结果不合法时返回原参数与错误
func (t Tuning) Apply(p TuningPatch) (Tuning, error) {
	next := t
	if p.Gravity != nil {
		next.Gravity = *p.Gravity
	}
	if p.BoxSpeed != nil {
		next.BoxSpeed = *p.BoxSpeed
	}
	if p.BoxLifetimeMs != nil {
		next.BoxLifetimeMs = *p.BoxLifetimeMs
	}
	if p.RespawnDelayMs != nil {
		next.RespawnDelayMs = *p.RespawnDelayMs
	}
	if err := next.Validate(); err != nil {
		return t, err
	}
	return next, nil
}

// Config 进程级配置
type Config struct {
	Addr        string `json:"addr"`
	LogFile     string `json:"logFile"`
	StaticDir   string `json:"staticDir"`
	PublicURL   string `json:"publicUrl"`
	DefaultRoom string `json:"defaultRoom"`
	Tuning      Tuning `json:"tuning"`
}

func DefaultConfig() Config {
	return Config{
		Addr:        ":3000",
		LogFile:     "app.log",
		StaticDir:   "web",
		PublicURL:   "http://localhost:3000",
		DefaultRoom: "lobby",
		Tuning:      DefaultTuning(),
	}
}

// LoadConfig 默认值 -> JSON 文件（path 为空则跳过）-> 环境变量
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if u := os.Getenv("PUBLIC_URL"); u != "" {
		cfg.PublicURL = u
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = "lobby"
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid tuning: %w", err)
	}
	return cfg, nil
}
