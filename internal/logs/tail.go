package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1024 * 1024

// TailOptions selects which lines Tail returns.
type TailOptions struct {
	// Limit caps the number of lines returned; <= 0 returns none.
	Limit int
	// Contains keeps only lines holding every listed fragment.
	Contains []string
}

// TailResult holds the selected lines and the file offset they end at.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns the last opts.Limit matching lines of the file at path. A
// missing file yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Limit <= 0 {
		return TailResult{Offset: info.Size()}, nil
	}

	ring := make([]string, opts.Limit)
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if !matches(line, opts.Contains) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % opts.Limit
		if count < opts.Limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, count)
	if count == opts.Limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%opts.Limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// Follow polls the file at path every interval and calls emit for each
// matching line appended after offset. It returns when ctx is done.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, contains []string, emit func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, func(line string) {
			if matches(line, contains) {
				emit(line)
			}
		})
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	// A shorter file was rotated or truncated; start over.
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	next, err := scanLines(file, fn)
	if err != nil {
		return offset, err
	}
	return offset + next, nil
}

// scanLines reads complete lines from r and returns the number of bytes
// consumed. A trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}

func matches(line string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && !strings.Contains(line, f) {
			return false
		}
	}
	return true
}
