package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDB_OpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestDB_LogDeviceEvent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.LogDeviceEvent("adb", "R58M123ABC", "attached"); err != nil {
		t.Errorf("Failed to log device event: %v", err)
	}

	events, err := db.GetRecentDeviceEvents(10)
	if err != nil {
		t.Fatalf("Failed to query device events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 device event, got %d", len(events))
	}
	e := events[0]
	if e.Method != "adb" {
		t.Errorf("Expected method='adb', got '%v'", e.Method)
	}
	if e.Handle != "R58M123ABC" {
		t.Errorf("Expected handle='R58M123ABC', got '%v'", e.Handle)
	}
	if e.EventType != "attached" {
		t.Errorf("Expected event_type='attached', got '%v'", e.EventType)
	}
}

func TestDB_LogRelayEvent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.LogRelayEvent("starting", "waiting"); err != nil {
		t.Errorf("Failed to log relay event: %v", err)
	}
	if err := db.LogRelayEvent("waiting", "connected"); err != nil {
		t.Errorf("Failed to log relay event: %v", err)
	}

	events, err := db.GetRecentRelayEvents(10)
	if err != nil {
		t.Fatalf("Failed to query relay events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 relay events, got %d", len(events))
	}
}

func TestDB_LogNatEvent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.LogNatEvent("kernel_nat", "established", "usb0"); err != nil {
		t.Errorf("Failed to log nat event: %v", err)
	}
}

func TestDB_GetLastDeviceEventPerHandle(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.LogDeviceEvent("adb", "AAA", "attached")
	db.LogDeviceEvent("adb", "AAA", "detached")
	db.LogDeviceEvent("rndis", "usb0", "attached")

	events, err := db.GetLastDeviceEventPerHandle()
	if err != nil {
		t.Fatalf("Failed to query last events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 handles, got %d", len(events))
	}

	byHandle := make(map[string]string)
	for _, e := range events {
		byHandle[e.Handle] = e.EventType
	}
	if byHandle["AAA"] != "detached" {
		t.Errorf("Expected last event for AAA to be 'detached', got '%v'", byHandle["AAA"])
	}
	if byHandle["usb0"] != "attached" {
		t.Errorf("Expected last event for usb0 to be 'attached', got '%v'", byHandle["usb0"])
	}
}

func TestDB_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.LogDeviceEvent("adb", "AAA", "attached")
	if err := db.Flush(); err != nil {
		t.Errorf("Failed to flush database: %v", err)
	}
}
