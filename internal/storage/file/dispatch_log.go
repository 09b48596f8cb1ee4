// Package file provides the default durable backend for the dispatch log:
// an append-only text file, one record per line, read fully into memory at
// startup.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"mbbank-monitor/internal/storage"
)

// DispatchLog is a file-backed implementation of storage.DispatchLogStore.
// Line format: "<id>\t<RFC3339 timestamp>". Every append is flushed and
// synced before returning so a crash after MarkDispatched never loses the id.
type DispatchLog struct {
	mu   sync.Mutex
	f    *os.File
	seen map[string]struct{}
}

// OpenDispatchLog opens (or creates) the log at path and loads all recorded
// ids into memory.
func OpenDispatchLog(path string) (*DispatchLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dispatch log %s: %w", path, err)
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Tolerate a torn trailing line from a crash mid-write: an id
		// without a timestamp still counts as dispatched.
		id, _, _ := strings.Cut(line, "\t")
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read dispatch log %s: %w", path, err)
	}

	// A torn trailing line has no newline; heal it so the next append
	// starts a fresh line instead of gluing onto the torn id.
	if err := terminateLastLine(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("repair dispatch log %s: %w", path, err)
	}

	return &DispatchLog{f: f, seen: seen}, nil
}

func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.WriteString("\n")
	return err
}

// Contains reports whether id has already been dispatched.
func (s *DispatchLog) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok, nil
}

// MarkDispatched appends the id to the log and syncs it to disk.
// Returns ErrDuplicateKey if already recorded.
func (s *DispatchLog) MarkDispatched(_ context.Context, id string, at time.Time) error {
	if id == "" || strings.ContainsAny(id, "\t\n") {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return storage.ErrDuplicateKey
	}

	line := fmt.Sprintf("%s\t%s\n", id, at.UTC().Format(time.RFC3339))
	if _, err := s.f.WriteString(line); err != nil {
		return fmt.Errorf("append dispatch log: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync dispatch log: %w", err)
	}

	s.seen[id] = struct{}{}
	return nil
}

// Len returns the number of recorded ids.
func (s *DispatchLog) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen), nil
}

// Close closes the underlying file.
func (s *DispatchLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
