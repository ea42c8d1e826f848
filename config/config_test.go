package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.json")

	cfg := DefaultConfig()
	cfg.ServerAddress = "play.example.com"
	cfg.ServerPort = 25566
	cfg.Modules = []string{"core", "antispam"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ServerAddress != "play.example.com" || loaded.ServerPort != 25566 {
		t.Fatalf("unexpected upstream after round trip: %+v", loaded)
	}
	if len(loaded.Modules) != 2 || loaded.Modules[1] != "antispam" {
		t.Fatalf("unexpected modules after round trip: %v", loaded.Modules)
	}
}

func TestLoadResolvesModulesDirToAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.json")

	cfg := DefaultConfig()
	cfg.ModulesDir = "./modules"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !filepath.IsAbs(loaded.ModulesDir) {
		t.Fatalf("expected modules_dir to be made absolute, got %q", loaded.ModulesDir)
	}
}

func TestOverlayAppliesRecognizedEnvironmentVariables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overlay([]string{
		"LOG_LEVEL=DEBUG",
		"LOG_DISABLE_COLOR=1",
		"PROXY_DEBUG=1",
		"PROXY_DEBUG_TYPES=chat, keep_alive",
		"UNRELATED=ignored",
	})

	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("expected LOG_LEVEL overlay, got %q", cfg.LogLevel)
	}
	if !cfg.LogDisableColor {
		t.Fatal("expected LOG_DISABLE_COLOR overlay to set true")
	}
	if !cfg.Debug {
		t.Fatal("expected PROXY_DEBUG overlay to set true")
	}
	if len(cfg.DebugTypes) != 2 || cfg.DebugTypes[0] != "chat" || cfg.DebugTypes[1] != "keep_alive" {
		t.Fatalf("unexpected debug types: %v", cfg.DebugTypes)
	}
}

func TestOverlayLeavesUnsetVariablesUntouched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "WARN"
	cfg.Overlay([]string{"PATH=" + os.Getenv("PATH")})
	if cfg.LogLevel != "WARN" {
		t.Fatalf("expected LogLevel to remain WARN, got %q", cfg.LogLevel)
	}
	if cfg.Debug {
		t.Fatal("expected Debug to remain false when PROXY_DEBUG unset")
	}
}

func TestUpstreamAndListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerAddress = "mc.example.com"
	cfg.ServerPort = 25577
	cfg.ProxyPort = 25565

	if got := cfg.UpstreamAddr(); got != "mc.example.com:25577" {
		t.Fatalf("UpstreamAddr = %q", got)
	}
	if got := cfg.ListenAddr(); got != "0.0.0.0:25565" {
		t.Fatalf("ListenAddr = %q", got)
	}

	dest := cfg.UpstreamDestination()
	if dest.Address != "mc.example.com" || dest.Port != 25577 {
		t.Fatalf("UpstreamDestination = %+v", dest)
	}
}
