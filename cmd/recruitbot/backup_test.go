package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"recruitbot/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	src := t.TempDir()

	cfg := config.Defaults()
	cfg.Gateway.DBPath = filepath.Join(src, "recruitbot.db")
	cfg.Gateway.AttachmentDir = filepath.Join(src, "attachments")
	cfgPath := filepath.Join(src, "config.json")

	writeFile(t, cfgPath, `{"client":{"ownerId":"rec-1"}}`)
	writeFile(t, cfg.Gateway.DBPath, "sqlite-bytes")
	writeFile(t, cfg.Gateway.DBPath+"-wal", "wal-bytes")
	writeFile(t, filepath.Join(cfg.Gateway.AttachmentDir, "a1.pdf"), "cv")

	set, err := collectBackup(cfgPath, cfg)
	if err != nil {
		t.Fatalf("collectBackup: %v", err)
	}
	if len(set) != 4 {
		t.Fatalf("expected 4 files in backup set, got %d: %v", len(set), set)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	total, err := createTarGz(archive, set)
	if err != nil {
		t.Fatalf("createTarGz: %v", err)
	}
	if want := int64(len(`{"client":{"ownerId":"rec-1"}}`) + len("sqlite-bytes") + len("wal-bytes") + len("cv")); total != want {
		t.Errorf("archived %d bytes, want %d", total, want)
	}

	dst := t.TempDir()
	rt := restoreTargets{
		configPath:    filepath.Join(dst, "config.json"),
		dbPath:        filepath.Join(dst, "data", "recruitbot.db"),
		attachmentDir: filepath.Join(dst, "files"),
	}
	restored, err := extractTarGz(archive, rt)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 4 {
		t.Fatalf("expected 4 restored files, got %v", restored)
	}

	checks := map[string]string{
		rt.configPath:                             `{"client":{"ownerId":"rec-1"}}`,
		rt.dbPath:                                 "sqlite-bytes",
		rt.dbPath + "-wal":                        "wal-bytes",
		filepath.Join(rt.attachmentDir, "a1.pdf"): "cv",
	}
	for path, want := range checks {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read %s: %v", path, err)
			continue
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", path, data, want)
		}
	}
}

func TestRestoreTargets_RenamedDatabase(t *testing.T) {
	rt := restoreTargets{configPath: "/c/config.json", dbPath: "/d/new.db", attachmentDir: "/f"}

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"config.json", "/c/config.json", true},
		{"new.db", "/d/new.db", true},
		{"old.db", "/d/new.db", true},
		{"old.db-wal", "/d/new.db-wal", true},
		{"attachments/x.png", "/f/x.png", true},
		{"attachments/../../etc/passwd", "", false},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := rt.target(tt.name)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("target(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}
