package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ManifestName is the concat list consumed by the assembler.
const ManifestName = "filelist"

// Paths describes where one event's files live on disk.
type Paths struct {
	// VideoDir holds the final archived video: <root>/<door>/<YYYYMM>/<yymmdd>.
	VideoDir string
	// VideoPath is the final output file: <VideoDir>/<HHMMSS>.mp4.
	VideoPath string
	// SegmentDir is the transient segment directory: <VideoDir>/ts.
	SegmentDir string
	// ManifestPath is the concat list inside SegmentDir.
	ManifestPath string
}

// Layout derives event paths under a fixed archive root.
type Layout struct {
	Root string
}

// EventPaths computes the on-disk locations for one event. The month
// directory uses a four-digit year while the day directory uses a two-digit
// year; the asymmetry is part of the established archive layout.
func (l Layout) EventPaths(doorName string, eventTime time.Time) Paths {
	videoDir := filepath.Join(l.Root, doorName, eventTime.Format("200601"), eventTime.Format("060102"))
	segmentDir := filepath.Join(videoDir, "ts")
	return Paths{
		VideoDir:     videoDir,
		VideoPath:    filepath.Join(videoDir, eventTime.Format("150405")+".mp4"),
		SegmentDir:   segmentDir,
		ManifestPath: filepath.Join(segmentDir, ManifestName),
	}
}

// Writer persists decrypted segments into one segment directory. Writes may
// arrive in any order and from multiple goroutines; the manifest written by
// Finalize always lists segments in ascending index order.
type Writer struct {
	dir string

	mu      sync.Mutex
	indexes map[int]struct{}
}

// NewWriter creates the segment directory (and parents) and returns a
// writer for it. Re-running over an existing directory overwrites files
// with the same names.
func NewWriter(paths Paths) (*Writer, error) {
	if err := os.MkdirAll(paths.SegmentDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}
	return &Writer{dir: paths.SegmentDir, indexes: make(map[int]struct{})}, nil
}

// Write stores one decrypted segment as <index>.ts.
func (w *Writer) Write(index int, plaintext []byte) error {
	if index < 1 {
		return fmt.Errorf("segment index %d out of range", index)
	}
	name := strconv.Itoa(index) + ".ts"
	if err := os.WriteFile(filepath.Join(w.dir, name), plaintext, 0o644); err != nil {
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	w.mu.Lock()
	w.indexes[index] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Finalize validates that indexes form a contiguous 1..N run and writes the
// manifest listing them in ascending order. It returns the manifest path and
// the segment count.
func (w *Writer) Finalize() (string, int, error) {
	w.mu.Lock()
	indexes := make([]int, 0, len(w.indexes))
	for index := range w.indexes {
		indexes = append(indexes, index)
	}
	w.mu.Unlock()
	sort.Ints(indexes)

	for position, index := range indexes {
		if index != position+1 {
			return "", 0, fmt.Errorf("segment sequence has a gap: missing %d", position+1)
		}
	}

	var manifest strings.Builder
	for _, index := range indexes {
		fmt.Fprintf(&manifest, "file '%d.ts'\n", index)
	}
	manifestPath := filepath.Join(w.dir, ManifestName)
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0o644); err != nil {
		return "", 0, fmt.Errorf("write manifest: %w", err)
	}
	return manifestPath, len(indexes), nil
}

// Dir returns the segment directory backing this writer.
func (w *Writer) Dir() string {
	return w.dir
}
