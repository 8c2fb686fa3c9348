package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.csv")
	dst := filepath.Join(dir, "nested", "dst.csv")

	if err := os.WriteFile(src, []byte("year,count\n2024,12\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "year,count\n2024,12\n" {
		t.Fatalf("content mismatch: got %q", got)
	}
	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temporary file to be renamed away, found %d entries", len(entries))
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	for name, body := range map[string]string{
		"a.csv":           "a",
		"data/b.csv":      "b",
		"data/meta/c.txt": "c",
	} {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := CopyTree(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 files copied, got %d", n)
	}
	got, err := os.ReadFile(filepath.Join(dst, "data", "meta", "c.txt"))
	if err != nil || string(got) != "c" {
		t.Fatalf("expected nested file to be copied, got %q, %v", got, err)
	}

	// A second copy overwrites in place.
	if n, err := CopyTree(src, dst); err != nil || n != 3 {
		t.Fatalf("second copy: n=%d err=%v", n, err)
	}
}

func TestCopyTreeMissingSource(t *testing.T) {
	dir := t.TempDir()
	n, err := CopyTree(filepath.Join(dir, "absent"), filepath.Join(dir, "dst"))
	if err != nil || n != 0 {
		t.Fatalf("expected nothing copied, got n=%d err=%v", n, err)
	}
}
