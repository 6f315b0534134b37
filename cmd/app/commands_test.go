package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/restore"
)

func TestReadCapsuleDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.md":      "---\nid: cap-b\ntype: memory\ngrief_score: 7\ntimestamp: 200\n---\n# Second\n",
		"a.md":      "# First capsule\nbody\n",
		"notes.txt": "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.md"), 0o755); err != nil {
		t.Fatal(err)
	}

	capsules, err := readCapsuleDir(dir)
	if err != nil {
		t.Fatalf("readCapsuleDir: %v", err)
	}
	if len(capsules) != 2 {
		t.Fatalf("got %d capsules, want 2", len(capsules))
	}
	if capsules[0].ID != "a" || capsules[1].ID != "cap-b" {
		t.Errorf("ids = %s, %s", capsules[0].ID, capsules[1].ID)
	}
	if capsules[1].GriefScore != 7 || capsules[1].Timestamp != 200 {
		t.Errorf("frontmatter not applied: %+v", capsules[1])
	}
}

func TestReadCapsuleDir_Empty(t *testing.T) {
	_, err := readCapsuleDir(t.TempDir())
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	if err := report(&restore.Result{Success: true, Restored: 2}, nil); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(buf.String(), `"restored_count": 2`) {
		t.Errorf("output = %s", buf.String())
	}

	buf.Reset()
	if err := report(&restore.Result{Failed: 1}, nil); err == nil {
		t.Error("expected error for failed capsules")
	}

	buf.Reset()
	failure := errors.New("boom")
	if err := report(&restore.Result{Failed: 1}, failure); !errors.Is(err, failure) {
		t.Errorf("err = %v, want %v", err, failure)
	}
	if buf.Len() == 0 {
		t.Error("partial result not printed")
	}
}
