package server

import (
	"regexp"
	"strings"
	"testing"
)

var guestNameRe = regexp.MustCompile(`^Guest_[0-9A-Z]{4}$`)

func f64(v float64) *float64 { return &v }

func TestRegistryJoinCreatesDefaultPlayer(t *testing.T) {
	w := NewWorld(WorldWidth, WorldHeight)
	reg := NewRegistry(w)
	p := reg.Join("a")

	if p.X != w.SpawnX || p.Y != w.SpawnY {
		t.Errorf("spawned at (%v,%v), want (%v,%v)", p.X, p.Y, w.SpawnX, w.SpawnY)
	}
	if p.W != PlayerSize || p.H != PlayerSize {
		t.Errorf("size = %vx%v, want %vx%v", p.W, p.H, PlayerSize, PlayerSize)
	}
	if !p.Alive || p.VX != 0 || p.VY != 0 {
		t.Error("new player should be alive and at rest")
	}
	if !guestNameRe.MatchString(p.Name) {
		t.Errorf("guest name %q does not match Guest_XXXX", p.Name)
	}

	// 重复注册返回同一记录
	if again := reg.Join("a"); again != p || reg.Len() != 1 {
		t.Error("re-joining should be idempotent")
	}
}

func TestRegistryApplyUpdateMergesSuppliedFields(t *testing.T) {
	reg := NewRegistry(NewWorld(WorldWidth, WorldHeight))
	p := reg.Join("a")
	w0, h0 := p.W, p.H

	reg.ApplyUpdate("a", PositionUpdate{X: f64(100), Y: f64(50)})
	if p.X != 100 || p.Y != 50 || p.W != w0 || p.H != h0 {
		t.Errorf("after partial update: %+v", p.Box())
	}

	reg.ApplyUpdate("a", PositionUpdate{W: f64(40)})
	if p.X != 100 || p.Y != 50 || p.W != 40 {
		t.Errorf("after width update: %+v", p.Box())
	}
}

func TestRegistryApplyUpdateRecreatesUnknown(t *testing.T) {
	reg := NewRegistry(NewWorld(WorldWidth, WorldHeight))
	if !reg.ApplyUpdate("ghost", PositionUpdate{X: f64(7)}) {
		t.Fatal("update for unknown identity should recreate a record")
	}
	p, ok := reg.Get("ghost")
	if !ok || p.X != 7 || !guestNameRe.MatchString(p.Name) {
		t.Errorf("recreated player = %+v", p)
	}
}

func TestRegistryApplyUpdateIgnoredWhileDead(t *testing.T) {
	reg := NewRegistry(NewWorld(WorldWidth, WorldHeight))
	p := reg.Join("a")
	reg.MarkDead("a")
	x0 := p.X
	if reg.ApplyUpdate("a", PositionUpdate{X: f64(x0 + 50)}) {
		t.Error("update should be rejected while dead")
	}
	if p.X != x0 {
		t.Errorf("x = %v, want %v", p.X, x0)
	}
}

func TestRegistryRenameLength(t *testing.T) {
	reg := NewRegistry(NewWorld(WorldWidth, WorldHeight))
	p := reg.Join("a")
	orig := p.Name

	if reg.Rename("a", strings.Repeat("x", 33)) || p.Name != orig {
		t.Errorf("33-char rename should be rejected, name = %q", p.Name)
	}
	if reg.Rename("a", "") || p.Name != orig {
		t.Error("empty rename should be rejected")
	}

	name32 := strings.Repeat("y", 32)
	if !reg.Rename("a", name32) || p.Name != name32 {
		t.Errorf("32-char rename should succeed, name = %q", p.Name)
	}

	// 按字符而不是字节计数
	wide := strings.Repeat("é", 32)
	if !reg.Rename("a", wide) || p.Name != wide {
		t.Error("32 multi-byte characters should be accepted")
	}

	if reg.Rename("nobody", "Zed") {
		t.Error("rename of unknown identity should be a no-op")
	}
}

func TestRegistryMarkDeadAndRespawn(t *testing.T) {
	w := NewWorld(WorldWidth, WorldHeight)
	reg := NewRegistry(w)
	p := reg.Join("a")
	p.VX, p.VY = 4, -3

	if !reg.MarkDead("a") || p.Alive {
		t.Fatal("MarkDead should clear alive flag")
	}
	if reg.MarkDead("a") {
		t.Error("second MarkDead should report no transition")
	}
	if p.deathEpoch != 1 {
		t.Errorf("deathEpoch = %d, want 1", p.deathEpoch)
	}

	reg.Respawn("a", f64(10), nil)
	if !p.Alive || p.VX != 0 || p.VY != 0 {
		t.Error("respawn should restore alive and zero velocity")
	}
	if p.X != 10 || p.Y != w.SpawnY {
		t.Errorf("respawned at (%v,%v), want (10,%v)", p.X, p.Y, w.SpawnY)
	}

	reg.Respawn("a", nil, nil)
	if p.X != w.SpawnX || p.Y != w.SpawnY {
		t.Errorf("respawned at (%v,%v), want spawn point", p.X, p.Y)
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(NewWorld(WorldWidth, WorldHeight))
	reg.Join("a")
	reg.Join("b")
	reg.Join("c")

	if !reg.Remove("b") {
		t.Fatal("Remove should report removal")
	}
	if reg.Remove("b") {
		t.Error("second Remove should be a no-op")
	}
	if _, ok := reg.States()["b"]; ok {
		t.Error("removed player still in snapshot")
	}

	var order []PlayerID
	reg.Each(func(p *Player) { order = append(order, p.ID) })
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Errorf("iteration order = %v, want [a c]", order)
	}
}
