package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"status"}, dbPath, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 0") {
		t.Errorf("fresh database status = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"up"}, dbPath, &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 3") {
		t.Errorf("after up = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"down"}, dbPath, &out); err != nil {
		t.Fatalf("down: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 2") {
		t.Errorf("after down = %q", out.String())
	}
}

func TestRunMigrateCommand_Usage(t *testing.T) {
	var out bytes.Buffer
	if err := RunMigrateCommand(nil, "unused.db", &out); err == nil {
		t.Error("expected error without an action")
	}
	if !strings.Contains(out.String(), "Usage: scopae migrate") {
		t.Errorf("help not printed: %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"help"}, "unused.db", &out); err != nil {
		t.Errorf("help: %v", err)
	}

	if err := RunMigrateCommand([]string{"sideways"}, filepath.Join(t.TempDir(), "x.db"), &out); err == nil {
		t.Error("expected error for unknown action")
	}
}
