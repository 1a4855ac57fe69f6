package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const maxLine = 1024 * 1024

// Filter selects log lines. The zero Filter matches everything.
type Filter struct {
	// RunID keeps only lines tagged with this run. Zero disables the check.
	RunID int64
	// Contains keeps only lines containing this substring.
	Contains string
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.Contains != "" && !strings.Contains(line, f.Contains) {
		return false
	}
	if f.RunID == 0 {
		return true
	}
	return lineRunID(line) == f.RunID
}

// lineRunID extracts run_id from a JSON record or a key=value console line.
func lineRunID(line string) int64 {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record struct {
			RunID int64 `json:"run_id"`
		}
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
			return record.RunID
		}
		return 0
	}
	for _, token := range strings.Fields(trimmed) {
		value, ok := strings.CutPrefix(token, "run_id=")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(strings.Trim(value, `"`), 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

// Result is a batch of lines and the offset just past the last one read.
type Result struct {
	Lines  []string
	Offset int64
}

// Tail returns up to limit matching lines from the end of path. A missing
// file yields an empty result.
func Tail(path string, limit int, filter Filter) (Result, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return Result{}, err
	}
	defer file.Close()

	if limit <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Result{}, fmt.Errorf("seek log file: %w", err)
		}
		return Result{Offset: offset}, nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	offset, err := scan(file, func(line string) {
		if !filter.Match(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		count = min(count+1, limit)
	})
	if err != nil {
		return Result{}, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return Result{Lines: lines, Offset: offset}, nil
}

// ReadFrom returns matching lines written after offset. An offset past the
// end of file means the log was truncated and reading restarts at zero.
func ReadFrom(path string, offset int64, filter Filter) (Result, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return Result{Offset: offset}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Result{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	next, err := scan(file, func(line string) {
		if filter.Match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return Result{Offset: offset}, err
	}
	return Result{Lines: lines, Offset: offset + next}, nil
}

// Follow polls path every interval starting at offset and hands each new
// matching line to fn until ctx ends. It returns nil on cancellation.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, fn func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		result, err := ReadFrom(path, offset, filter)
		if err != nil {
			return err
		}
		for _, line := range result.Lines {
			fn(line)
		}
		offset = result.Offset
	}
}

func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scan reads complete lines from r and returns the number of bytes they
// covered. A trailing partial line is left for the next read.
func scan(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLine {
			continue
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}
