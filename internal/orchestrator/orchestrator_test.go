package orchestrator_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"belfry/internal/assemble"
	"belfry/internal/cloud"
	"belfry/internal/config"
	"belfry/internal/journal"
	"belfry/internal/ledger"
	"belfry/internal/logging"
	"belfry/internal/orchestrator"
	"belfry/internal/segment"
)

const (
	keyURL      = "https://cloud.example/key"
	playlistURL = "https://cloud.example/playlist.m3u8"
)

type fakeClient struct {
	mu         sync.Mutex
	devices    []cloud.Device
	pages      map[string][]cloud.EventPage
	pageCalls  map[string]int
	responses  map[string][]byte
	failures   map[string]error
	fetchCount map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:      make(map[string][]cloud.EventPage),
		pageCalls:  make(map[string]int),
		responses:  make(map[string][]byte),
		failures:   make(map[string]error),
		fetchCount: make(map[string]int),
	}
}

func (f *fakeClient) Devices(context.Context) ([]cloud.Device, error) {
	return f.devices, nil
}

func (f *fakeClient) EventPage(_ context.Context, device cloud.Device, _ cloud.EventQuery) (cloud.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.pageCalls[device.DID]
	f.pageCalls[device.DID]++
	pages := f.pages[device.DID]
	if call >= len(pages) {
		return cloud.EventPage{}, nil
	}
	return pages[call], nil
}

func (f *fakeClient) PlaylistURL(_ context.Context, _ cloud.Device, fileID string) (string, error) {
	return playlistURL + "?id=" + fileID, nil
}

func (f *fakeClient) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount[url]++
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	body, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no response configured for %s", url)
	}
	return body, nil
}

func (f *fakeClient) totalFetches(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for url, count := range f.fetchCount {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			total += count
		}
	}
	return total
}

func encryptCBC(t *testing.T, key, iv, plaintext []byte) []byte {
	t.Helper()
	if pad := len(plaintext) % aes.BlockSize; pad != 0 {
		plaintext = append(plaintext, make([]byte, aes.BlockSize-pad)...)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out
}

// seedEvent configures the fake client with one encrypted three-segment
// event and returns the expected decrypted segment payloads.
func seedEvent(t *testing.T, client *fakeClient, fileID string) [][]byte {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 16)
	iv := bytes.Repeat([]byte{0x17}, 16)

	var segURLs string
	plaintexts := make([][]byte, 3)
	for i := range plaintexts {
		url := fmt.Sprintf("https://cloud.example/%s/%d.ts", fileID, i+1)
		plaintexts[i] = bytes.Repeat([]byte{byte(i + 1)}, aes.BlockSize*2)
		client.responses[url] = encryptCBC(t, key, iv, plaintexts[i])
		segURLs += url + "\n"
	}

	body := "#EXTM3U\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"" + keyURL + "\",IV=0x" + hex.EncodeToString(iv) + "\n" +
		segURLs +
		"#EXT-X-ENDLIST\n"
	client.responses[playlistURL+"?id="+fileID] = []byte(body)
	client.responses[keyURL] = key
	return plaintexts
}

type fixture struct {
	cfg     *config.Config
	client  *fakeClient
	ledger  *ledger.Ledger
	journal *journal.Journal
	orch    *orchestrator.Orchestrator
}

// stubTool writes an executable script standing in for the concatenation
// binary. The script receives the real ffmpeg argument list; its last
// argument is the output path.
func stubTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return path
}

func newFixture(t *testing.T, client *fakeClient) *fixture {
	t.Helper()
	return newFixtureWithTool(t, client, "")
}

func newFixtureWithTool(t *testing.T, client *fakeClient, binary string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.SaveDir = filepath.Join(t.TempDir(), "videos")
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Doorbells.Names = []string{"Front"}

	led := ledger.Open(filepath.Join(cfg.Paths.DataDir, "data.json"), "Front", logging.NewNop())
	jrn, err := journal.Open(filepath.Join(cfg.Paths.DataDir, "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jrn.Close() })

	// Fixed clock keeps the fixture event timestamps inside the lookback
	// window regardless of when the test runs.
	orch, err := orchestrator.New(orchestrator.Deps{
		Config:    &cfg,
		Client:    client,
		Ledger:    led,
		Journal:   jrn,
		Assembler: assemble.New(binary, 0, logging.NewNop()),
		Logger:    logging.NewNop(),
		Now:       func() time.Time { return time.UnixMilli(1700000100000) },
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return &fixture{cfg: &cfg, client: client, ledger: led, journal: jrn, orch: orch}
}

func frontDoorbell() cloud.Device {
	return cloud.Device{Name: "Front", Model: "madv.cateye.v1", DID: "did-front"}
}

func singlePage(events ...cloud.Event) []cloud.EventPage {
	return []cloud.EventPage{{Items: events}}
}

func TestRunCycleArchivesNewEvent(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = singlePage(event)
	plaintexts := seedEvent(t, client, "abc123")

	fix := newFixture(t, client)
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 1 || summary.EventsFailed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.SegmentsDownloaded != 3 {
		t.Fatalf("expected 3 segments downloaded, got %d", summary.SegmentsDownloaded)
	}

	paths := segment.Layout{Root: fix.cfg.Paths.SaveDir}.EventPaths("Front", event.Time())
	for i, want := range plaintexts {
		data, err := os.ReadFile(filepath.Join(paths.SegmentDir, fmt.Sprintf("%d.ts", i+1)))
		if err != nil {
			t.Fatalf("read segment %d: %v", i+1, err)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("segment %d not decrypted correctly", i+1)
		}
	}
	manifest, err := os.ReadFile(paths.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(manifest) != "file '1.ts'\nfile '2.ts'\nfile '3.ts'\n" {
		t.Errorf("unexpected manifest contents %q", manifest)
	}

	if !fix.ledger.IsProcessed("Front", "abc123") {
		t.Error("expected event recorded in ledger")
	}
	entries, err := fix.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != journal.StatusCompleted {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
}

func TestRunCycleMergedOutputReclaimsSegments(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = singlePage(event)
	seedEvent(t, client, "abc123")

	// The stub writes a nonempty file at the output path (the last arg).
	fix := newFixtureWithTool(t, client, stubTool(t,
		`for arg; do out="$arg"; done`+"\n"+`printf merged > "$out"`))
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 1 || summary.MergeFailures != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	paths := segment.Layout{Root: fix.cfg.Paths.SaveDir}.EventPaths("Front", event.Time())
	info, err := os.Stat(paths.VideoPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("archived video missing or empty at %s: %v", paths.VideoPath, err)
	}
	if _, err := os.Stat(paths.SegmentDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("segment directory should be reclaimed after a validated merge")
	}

	if !fix.ledger.IsProcessed("Front", "abc123") {
		t.Error("expected event recorded in ledger")
	}
	entries, err := fix.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != journal.StatusCompleted {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
	if entries[0].OutputPath != paths.VideoPath {
		t.Errorf("journal output path = %q, want %q", entries[0].OutputPath, paths.VideoPath)
	}
}

func TestRunCycleRecordsEventDespiteMergeFailure(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = append(singlePage(event), singlePage(event)...)
	seedEvent(t, client, "abc123")

	fix := newFixtureWithTool(t, client, stubTool(t, "echo concat failed >&2\nexit 1"))
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 1 || summary.EventsFailed != 0 || summary.MergeFailures != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	paths := segment.Layout{Root: fix.cfg.Paths.SaveDir}.EventPaths("Front", event.Time())
	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(filepath.Join(paths.SegmentDir, fmt.Sprintf("%d.ts", i))); err != nil {
			t.Errorf("segment %d should be preserved: %v", i, err)
		}
	}
	if _, err := os.Stat(paths.VideoPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("no archived video should exist after a failed merge")
	}

	// The event is recorded anyway so a broken merge never loops.
	if !fix.ledger.IsProcessed("Front", "abc123") {
		t.Fatal("expected event recorded despite merge failure")
	}
	entries, err := fix.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != journal.StatusMergeFailed {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
	if entries[0].OutputPath != paths.SegmentDir {
		t.Errorf("journal output path = %q, want segment dir %q", entries[0].OutputPath, paths.SegmentDir)
	}

	// The next cycle must not re-download it.
	summary, err = fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 0 || summary.EventsSeen != 0 {
		t.Fatalf("expected second cycle to skip the event, got %+v", summary)
	}
}

func TestRunCycleIsIdempotent(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = append(singlePage(event), singlePage(event)...)
	seedEvent(t, client, "abc123")

	fix := newFixture(t, client)
	if _, err := fix.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("first RunCycle returned error: %v", err)
	}
	fetchesAfterFirst := client.totalFetches("https://cloud.example/")

	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 0 || summary.EventsSeen != 0 {
		t.Fatalf("expected second cycle to skip the event, got %+v", summary)
	}
	if got := client.totalFetches("https://cloud.example/"); got != fetchesAfterFirst {
		t.Fatalf("expected no media fetches on second cycle, got %d extra", got-fetchesAfterFirst)
	}
}

func TestRunCyclePagesBackwards(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	older := cloud.Event{EventTime: 1699990000000, FileID: "older", EventType: "Pass"}
	newer := cloud.Event{EventTime: 1700000000000, FileID: "newer", EventType: "Bell"}
	client.pages["did-front"] = []cloud.EventPage{
		{IsContinue: true, NextTime: older.EventTime + 1, Items: []cloud.Event{newer}},
		{Items: []cloud.Event{older}},
	}
	seedEvent(t, client, "older")
	seedEvent(t, client, "newer")

	fix := newFixture(t, client)
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 2 {
		t.Fatalf("expected both pages processed, got %+v", summary)
	}
	if !fix.ledger.IsProcessed("Front", "older") || !fix.ledger.IsProcessed("Front", "newer") {
		t.Error("expected both events in ledger")
	}
}

func TestRunCycleSkipsFailedEventWithoutRecording(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = append(singlePage(event), singlePage(event)...)
	seedEvent(t, client, "abc123")
	client.failures["https://cloud.example/abc123/2.ts"] = errors.New("connection reset")

	fix := newFixture(t, client)
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsFailed != 1 || summary.EventsProcessed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if fix.ledger.IsProcessed("Front", "abc123") {
		t.Fatal("failed event must not be recorded in ledger")
	}
	entries, err := fix.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != journal.StatusFailed {
		t.Fatalf("unexpected journal entries %+v", entries)
	}

	// The segment comes back on the next cycle and the event is retried.
	delete(client.failures, "https://cloud.example/abc123/2.ts")
	summary, err = fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("retry RunCycle returned error: %v", err)
	}
	if summary.EventsProcessed != 1 {
		t.Fatalf("expected retry to archive the event, got %+v", summary)
	}
	if !fix.ledger.IsProcessed("Front", "abc123") {
		t.Error("expected event recorded after successful retry")
	}
}

func TestRunCycleRejectsMalformedPlaylist(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = singlePage(event)
	seedEvent(t, client, "abc123")
	// A segment before the key directive means the shared key cannot be
	// trusted for every segment.
	client.responses[playlistURL+"?id=abc123"] = []byte(
		"#EXTM3U\n" +
			"https://cloud.example/abc123/1.ts\n" +
			"#EXT-X-KEY:METHOD=AES-128,URI=\"" + keyURL + "\",IV=0x00000000000000000000000000000000\n")

	fix := newFixture(t, client)
	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.EventsFailed != 1 {
		t.Fatalf("expected malformed playlist to fail the event, got %+v", summary)
	}
	if fix.ledger.IsProcessed("Front", "abc123") {
		t.Error("malformed event must not be recorded")
	}
}

func TestRunCycleIgnoresUnknownDoorbell(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{{Name: "Front", Model: "other.vendor.v1", DID: "did-front"}}
	fix := newFixture(t, client)

	summary, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if summary.Doorbells != 0 {
		t.Fatalf("expected no doorbell match, got %+v", summary)
	}
}

func TestRunCyclePersistsLedgerOnce(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	event := cloud.Event{EventTime: 1700000000000, FileID: "abc123", EventType: "Bell"}
	client.pages["did-front"] = singlePage(event)
	seedEvent(t, client, "abc123")

	fix := newFixture(t, client)
	if _, err := fix.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	reloaded := ledger.Open(fix.ledger.Path(), "Front", logging.NewNop())
	if !reloaded.IsProcessed("Front", "abc123") {
		t.Error("expected committed ledger to contain the event")
	}
	if reloaded.TotalEvents() != 1 {
		t.Errorf("expected 1 ledger event, got %d", reloaded.TotalEvents())
	}
	if _, err := os.Stat(fix.ledger.Path()); err != nil {
		t.Errorf("expected ledger file on disk: %v", err)
	}
}

func TestCycleIDAssigned(t *testing.T) {
	client := newFakeClient()
	client.devices = []cloud.Device{frontDoorbell()}
	fix := newFixture(t, client)

	first, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	second, err := fix.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if first.CycleID == "" || first.CycleID == second.CycleID {
		t.Fatalf("expected distinct cycle ids, got %q and %q", first.CycleID, second.CycleID)
	}
	if first.Duration < 0 {
		t.Fatalf("negative cycle duration %s", first.Duration)
	}
}
