package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSizedFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPruneRemovesOldestBackupsFirst(t *testing.T) {
	dir := t.TempDir()
	oldest := filepath.Join(dir, "main-2026-01-01T00-00-00.000.log.gz")
	older := filepath.Join(dir, "main-2026-01-02T00-00-00.000.log")
	active := filepath.Join(dir, "main.log")
	notes := filepath.Join(dir, "notes.txt")
	writeSizedFile(t, oldest, 60, time.Unix(1, 0))
	writeSizedFile(t, older, 60, time.Unix(2, 0))
	writeSizedFile(t, active, 60, time.Unix(3, 0))
	writeSizedFile(t, notes, 500, time.Unix(0, 0))

	p := &logPruner{dir: dir, maxBytes: 120, active: active}
	removed, err := p.prune()
	if err != nil {
		t.Fatalf("prune() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if exists(oldest) || !exists(older) || !exists(active) || !exists(notes) {
		t.Fatalf("unexpected survivors: oldest=%t older=%t active=%t notes=%t", exists(oldest), exists(older), exists(active), exists(notes))
	}
}

func TestPruneNeverRemovesActiveFile(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "main.log")
	writeSizedFile(t, active, 200, time.Unix(1, 0))
	writeSizedFile(t, filepath.Join(dir, "main-1.log"), 50, time.Unix(2, 0))

	p := &logPruner{dir: dir, maxBytes: 100, active: active}
	removed, err := p.prune()
	if err != nil {
		t.Fatalf("prune() error = %v", err)
	}
	if removed != 1 || !exists(active) {
		t.Fatalf("removed = %d, active exists = %t", removed, exists(active))
	}
}

func TestPruneMissingDirectory(t *testing.T) {
	p := &logPruner{dir: filepath.Join(t.TempDir(), "absent"), maxBytes: 1}
	if removed, err := p.prune(); err != nil || removed != 0 {
		t.Fatalf("prune() = %d, %v", removed, err)
	}
}
