package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewTorRunner_CreatesDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "tor-state")

	tr, err := newTorRunner(dataDir)
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}
	if tr == nil {
		t.Fatal("newTorRunner returned nil")
	}

	info, err := os.Stat(dataDir)
	if err != nil {
		t.Fatalf("data dir should exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("data dir path should be a directory")
	}
}

func TestTorRunner_StopNotStarted(t *testing.T) {
	tr, err := newTorRunner(t.TempDir())
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}

	if err := tr.Stop(); err != nil {
		t.Errorf("Stop before Start should not error: %v", err)
	}
}

func TestTorRunner_StatusBeforeStart(t *testing.T) {
	tr, err := newTorRunner(t.TempDir())
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}

	status, err := tr.Status(context.Background())
	if err != nil {
		t.Fatalf("Status before Start should not error: %v", err)
	}
	if status.Bootstrapped || status.CircuitEstablished {
		t.Error("status before Start should report nothing established")
	}
	if status.SocksAddress != "" {
		t.Errorf("socks address before Start = %q, want empty", status.SocksAddress)
	}
}

func TestTorRunner_SocksAddressBeforeStart(t *testing.T) {
	tr, err := newTorRunner(t.TempDir())
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}

	if addr := tr.SocksAddress(); addr != "" {
		t.Errorf("SocksAddress before Start = %q, want empty", addr)
	}
}

func TestTorRunner_ControlOpsBeforeStart(t *testing.T) {
	tr, err := newTorRunner(t.TempDir())
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}

	if err := tr.EnableBridges([]string{"obfs4 1.2.3.4:443"}); err == nil {
		t.Error("EnableBridges before Start should error")
	}
	if _, err := tr.CreateOnionService(context.Background(), 8080); err == nil {
		t.Error("CreateOnionService before Start should error")
	}
	if err := tr.RotateCircuit(); err == nil {
		t.Error("RotateCircuit before Start should error")
	}
}

func TestTorRunner_OnionKeyPersistence(t *testing.T) {
	dataDir := t.TempDir()
	tr, err := newTorRunner(dataDir)
	if err != nil {
		t.Fatalf("newTorRunner failed: %v", err)
	}

	keyPath := filepath.Join(dataDir, "onion_key_8080")
	key, err := tr.loadOrGenerateKey(keyPath)
	if err != nil {
		t.Fatalf("loadOrGenerateKey failed: %v", err)
	}
	if len(key) == 0 {
		t.Fatal("generated key should not be empty")
	}

	if _, err := os.Stat(keyPath); err != nil {
		t.Fatalf("key file should be saved: %v", err)
	}

	again, err := tr.loadOrGenerateKey(keyPath)
	if err != nil {
		t.Fatalf("second loadOrGenerateKey failed: %v", err)
	}
	if string(again) != string(key) {
		t.Error("reloaded key should match the generated key")
	}
}
