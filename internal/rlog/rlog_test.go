package rlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProductionModeIsNoop(t *testing.T) {
	CloseAll()
	tempDir, err := os.MkdirTemp("", "rlog_test")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(tempDir)

	if err := Init(tempDir, Config{DebugMode: false}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Get(CategoryEngine).Info("should not be written")

	if _, err := os.Stat(filepath.Join(tempDir, ".ruleengine", "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no log directory in production mode, stat err = %v", err)
	}
}

func TestDebugModeWritesPerCategoryFile(t *testing.T) {
	CloseAll()
	tempDir, err := os.MkdirTemp("", "rlog_test")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(tempDir)

	if err := Init(tempDir, Config{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Get(CategoryAgenda).Infow("cycle fired", "rule", "IsVIPRule")
	CloseAll()

	logDir := filepath.Join(tempDir, ".ruleengine", "logs")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "_agenda.log") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an agenda log file, got entries: %v", entries)
	}
}

func TestDisabledCategoryIsNoop(t *testing.T) {
	CloseAll()
	tempDir, err := os.MkdirTemp("", "rlog_test")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(tempDir)

	if err := Init(tempDir, Config{
		DebugMode:  true,
		Categories: map[string]bool{string(CategoryAgenda): false},
	}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if IsCategoryEnabled(CategoryAgenda) {
		t.Fatal("expected CategoryAgenda to be disabled")
	}
	if !IsCategoryEnabled(CategoryEngine) {
		t.Fatal("expected CategoryEngine to default to enabled when unlisted")
	}
	CloseAll()
}
