package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"belfry/internal/services"
)

func stubTool(t *testing.T, script string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
	t.Cleanup(func() { commandContext = original })
}

func setupSegments(t *testing.T) (manifestPath, outputPath, segmentDir string) {
	t.Helper()
	videoDir := t.TempDir()
	segmentDir = filepath.Join(videoDir, "ts")
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := ""
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("%d.ts", i)
		if err := os.WriteFile(filepath.Join(segmentDir, name), []byte("ts-data"), 0o644); err != nil {
			t.Fatal(err)
		}
		manifest += fmt.Sprintf("file '%s'\n", name)
	}
	manifestPath = filepath.Join(segmentDir, "filelist")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	outputPath = filepath.Join(videoDir, "221320.mp4")
	return manifestPath, outputPath, segmentDir
}

func TestAssembleSuccessReclaimsSegments(t *testing.T) {
	manifestPath, outputPath, segmentDir := setupSegments(t)
	stubTool(t, fmt.Sprintf("printf merged > %q", outputPath))

	assembler := New("ffmpeg", time.Minute, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 3,
	})

	if result.Failure != nil {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if !result.Merged || result.Path != outputPath {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(segmentDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("segment directory should be removed after a validated merge")
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		t.Error("output file missing or empty")
	}
}

func TestAssembleToolFailurePreservesSegments(t *testing.T) {
	manifestPath, outputPath, segmentDir := setupSegments(t)
	stubTool(t, "echo boom >&2; exit 1")

	assembler := New("ffmpeg", time.Minute, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 3,
	})

	if result.Failure == nil {
		t.Fatal("expected merge failure")
	}
	if !errors.Is(result.Failure, services.ErrExternalTool) {
		t.Errorf("failure marker: %v", result.Failure)
	}
	if result.Merged || result.Path != segmentDir {
		t.Errorf("result = %+v", result)
	}
	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(filepath.Join(segmentDir, fmt.Sprintf("%d.ts", i))); err != nil {
			t.Errorf("segment %d should be preserved: %v", i, err)
		}
	}
}

func TestAssembleZeroExitEmptyOutputIsFailure(t *testing.T) {
	manifestPath, outputPath, segmentDir := setupSegments(t)
	// Tool exits 0 but never writes the output file.
	stubTool(t, "exit 0")

	assembler := New("ffmpeg", time.Minute, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 3,
	})

	if result.Failure == nil {
		t.Fatal("a clean exit without output must not be trusted")
	}
	if result.Path != segmentDir {
		t.Errorf("fallback path = %q", result.Path)
	}
}

func TestAssembleSkipsWithoutTool(t *testing.T) {
	manifestPath, outputPath, segmentDir := setupSegments(t)

	assembler := New("", time.Minute, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 3,
	})

	if result.Failure != nil || result.Merged {
		t.Errorf("result = %+v", result)
	}
	if result.Path != segmentDir {
		t.Errorf("path = %q, want segment dir", result.Path)
	}
}

func TestAssembleSkipsZeroSegments(t *testing.T) {
	manifestPath, outputPath, segmentDir := setupSegments(t)
	stubTool(t, "echo should-not-run; exit 1")

	assembler := New("ffmpeg", time.Minute, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 0,
	})

	if result.Failure != nil || result.Merged || result.Path != segmentDir {
		t.Errorf("result = %+v", result)
	}
}

func TestAssembleTimeout(t *testing.T) {
	manifestPath, outputPath, _ := setupSegments(t)
	stubTool(t, "sleep 5")

	assembler := New("ffmpeg", 50*time.Millisecond, nil)
	result := assembler.Assemble(context.Background(), Request{
		ManifestPath: manifestPath,
		OutputPath:   outputPath,
		SegmentCount: 3,
	})

	if result.Failure == nil {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(result.Failure, services.ErrTimeout) {
		t.Errorf("failure marker: %v", result.Failure)
	}
}
