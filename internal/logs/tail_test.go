package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pubpipe/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pubpipe.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := logs.Tail(path, logs.TailOptions{Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("offset = %d, want 6", result.Offset)
	}
}

func TestTailFiltersByFragment(t *testing.T) {
	path := writeLog(t, "rv=1 stage started\nrv=2 stage started\nrv=1 stage completed\npartial rv=1")

	result, err := logs.Tail(path, logs.TailOptions{Limit: 10, Contains: []string{"rv=1"}})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	want := []string{"rv=1 stage started", "rv=1 stage completed"}
	if len(result.Lines) != len(want) {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	for i := range want {
		if result.Lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, result.Lines[i], want[i])
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(filepath.Join(t.TempDir(), "missing.log"), logs.TailOptions{Limit: 5})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	initial, err := logs.Tail(path, logs.TailOptions{Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, initial.Offset, 10*time.Millisecond, nil, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected follow lines: %#v", got)
	}
}
