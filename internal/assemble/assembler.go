// Package assemble concatenates decrypted segments into one playable file
// by driving ffmpeg over the segment manifest, validating its output, and
// reclaiming segment storage on success.
package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"belfry/internal/logging"
	"belfry/internal/services"
)

// commandContext is swapped in tests to avoid requiring a real ffmpeg.
var commandContext = exec.CommandContext

// Request describes one assembly job.
type Request struct {
	ManifestPath string
	OutputPath   string
	SegmentCount int
}

// Result reports where the event's media ended up. When Merged is false the
// Path points at the preserved segment directory; Failure carries the merge
// error, if any. A failed merge is an explicit, reportable outcome rather
// than a pipeline error: the caller decides to record the event anyway.
type Result struct {
	Path    string
	Merged  bool
	Failure error
}

// Assembler invokes the external concatenation tool.
type Assembler struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// New constructs an assembler. An empty binary disables merging: events keep
// their raw segment directories.
func New(binary string, timeout time.Duration, logger *slog.Logger) *Assembler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Assembler{
		binary:  strings.TrimSpace(binary),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "assemble"),
	}
}

// Assemble concatenates the manifest's segments into req.OutputPath. With no
// tool configured or nothing to merge, the segment directory is returned
// as-is. On success the segment directory is deleted; on failure it is
// preserved untouched for inspection or a manual retry.
func (a *Assembler) Assemble(ctx context.Context, req Request) Result {
	segmentDir := filepath.Dir(req.ManifestPath)

	if a.binary == "" || req.SegmentCount == 0 {
		return Result{Path: segmentDir, Merged: false}
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", req.ManifestPath,
		"-y",
		"-c:v", "libx264",
		"-c:a", "aac",
		req.OutputPath,
	}
	cmd := commandContext(runCtx, a.binary, args...) //nolint:gosec
	cmd.Dir = segmentDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	a.logger.Debug("running concatenation tool",
		logging.String("binary", a.binary),
		logging.String("manifest", req.ManifestPath),
		logging.Int("segments", req.SegmentCount))

	runErr := cmd.Run()
	if runCtx.Err() != nil && runErr != nil {
		runErr = services.Wrap(services.ErrTimeout, "assemble", "merge", "tool exceeded deadline", runErr)
	}
	if runErr == nil {
		runErr = validateOutput(req.OutputPath)
	}

	if runErr != nil {
		diagnostics := strings.TrimSpace(output.String())
		a.logger.Error("segment merge failed; segment directory preserved",
			logging.Error(runErr),
			logging.String("segment_dir", segmentDir),
			logging.String("tool_output", tail(diagnostics, 2048)))
		return Result{
			Path:    segmentDir,
			Merged:  false,
			Failure: services.Wrap(services.ErrExternalTool, "assemble", "merge", "", runErr),
		}
	}

	if err := os.RemoveAll(segmentDir); err != nil {
		// The merged file is good; a lingering ts directory is only noise.
		a.logger.Warn("failed to reclaim segment directory",
			logging.Error(err),
			logging.String("segment_dir", segmentDir),
			logging.String(logging.FieldErrorHint, "remove the directory manually"))
	}

	a.logger.Info("segments merged", logging.String("output", req.OutputPath))
	return Result{Path: req.OutputPath, Merged: true}
}

// validateOutput rejects the zero-exit-but-empty-file case: a clean exit
// status alone is not trusted.
func validateOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output file missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("output file is empty")
	}
	return nil
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
