// Package ledger tracks which doorbell events have already been archived.
// It is the sole source of truth for "already handled": an entry exists for
// a (doorbell, fileId) pair exactly when that event's video has been
// durably recorded as processed.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"belfry/internal/cloud"
	"belfry/internal/logging"
)

// ErrCorrupt marks ledger files that could not be decoded. It only surfaces
// in logs: loading always recovers, at worst with an empty mapping.
var ErrCorrupt = errors.New("ledger file corrupt")

// Ledger is a durable mapping doorbell name → fileId → event snapshot.
type Ledger struct {
	path        string
	defaultDoor string
	logger      *slog.Logger

	mu    sync.RWMutex
	doors map[string]map[string]cloud.Event
}

// Open loads the ledger at path. Decoding problems are recovered: files in
// a legacy encoding are re-decoded and rewritten in UTF-8, a legacy
// single-doorbell schema is migrated under defaultDoor, and anything else
// falls back to an empty mapping. The fallback merely causes a re-download,
// so it is never an error.
func Open(path, defaultDoor string, logger *slog.Logger) *Ledger {
	l := &Ledger{
		path:        path,
		defaultDoor: defaultDoor,
		logger:      logging.NewComponentLogger(logger, "ledger"),
		doors:       make(map[string]map[string]cloud.Event),
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("cannot read ledger file; starting empty",
				logging.Error(err),
				logging.String("path", l.path),
				logging.String(logging.FieldErrorHint, "already-archived events will be re-downloaded"))
		}
		return
	}
	if len(data) == 0 {
		return
	}

	repaired := false
	if !utf8.Valid(data) {
		decoded, convErr := simplifiedchinese.GBK.NewDecoder().Bytes(data)
		if convErr != nil {
			l.logger.Warn("ledger file has an unrecognized encoding; starting empty",
				logging.Error(fmt.Errorf("%w: %v", ErrCorrupt, convErr)),
				logging.String("path", l.path))
			return
		}
		data = decoded
		repaired = true
	}

	doors, err := decodeDoors(data, l.defaultDoor)
	if err != nil {
		l.logger.Warn("cannot decode ledger file; starting empty",
			logging.Error(fmt.Errorf("%w: %v", ErrCorrupt, err)),
			logging.String("path", l.path),
			logging.String(logging.FieldErrorHint, "already-archived events will be re-downloaded"))
		return
	}
	l.doors = doors

	if repaired {
		// Rewrite immediately so the canonical UTF-8 form survives even if
		// this cycle later fails.
		if err := l.Commit(); err != nil {
			l.logger.Warn("failed to rewrite repaired ledger", logging.Error(err))
		} else {
			l.logger.Info("ledger file re-encoded to UTF-8", logging.String("path", l.path))
		}
	}
}

// decodeDoors parses the canonical door→fileId→event schema, falling back
// to the legacy single-doorbell fileId→event schema which is migrated under
// defaultDoor.
func decodeDoors(data []byte, defaultDoor string) (map[string]map[string]cloud.Event, error) {
	var doors map[string]map[string]cloud.Event
	if err := json.Unmarshal(data, &doors); err == nil {
		for door, events := range doors {
			if events == nil {
				doors[door] = make(map[string]cloud.Event)
			}
		}
		return doors, nil
	}

	var legacy map[string]cloud.Event
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	door := defaultDoor
	if door == "" {
		door = "default"
	}
	return map[string]map[string]cloud.Event{door: legacy}, nil
}

// EnsureDoor initializes an empty entry set for a doorbell.
func (l *Ledger) EnsureDoor(door string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.doors[door]; !ok {
		l.doors[door] = make(map[string]cloud.Event)
	}
}

// IsProcessed reports whether the event was already archived.
func (l *Ledger) IsProcessed(door, fileID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.doors[door][fileID]
	return ok
}

// Record inserts or overwrites the event snapshot. Callers must only invoke
// this after the event has been handled (archived or accepted as
// processed-but-unmerged).
func (l *Ledger) Record(door string, event cloud.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events, ok := l.doors[door]
	if !ok {
		events = make(map[string]cloud.Event)
		l.doors[door] = events
	}
	events[event.FileID] = event
}

// Commit atomically persists the full mapping, replacing prior contents.
// A temp-file rename keeps a crash from truncating history recorded by
// earlier cycles.
func (l *Ledger) Commit() error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l.doors, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp ledger: %w", err)
	}
	return nil
}

// Doors returns the doorbell names present in the ledger, sorted.
func (l *Ledger) Doors() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doors := make([]string, 0, len(l.doors))
	for door := range l.doors {
		doors = append(doors, door)
	}
	sort.Strings(doors)
	return doors
}

// Events returns the door's archived events, newest first.
func (l *Ledger) Events(door string) []cloud.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]cloud.Event, 0, len(l.doors[door]))
	for _, event := range l.doors[door] {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].EventTime > events[j].EventTime
	})
	return events
}

// TotalEvents returns the number of archived events across all doorbells.
func (l *Ledger) TotalEvents() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, events := range l.doors {
		total += len(events)
	}
	return total
}

// Path returns the on-disk location backing the ledger.
func (l *Ledger) Path() string {
	return l.path
}
