// Package orchestrator drives one archive cycle: it discovers doorbell
// devices, lists recent events, downloads and decrypts each new event's
// segments, assembles them into a single video, and records the outcome in
// the ledger and the journal. Cycles are idempotent: events already present
// in the ledger are never fetched again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"belfry/internal/assemble"
	"belfry/internal/cloud"
	"belfry/internal/config"
	"belfry/internal/journal"
	"belfry/internal/ledger"
	"belfry/internal/logging"
	"belfry/internal/metrics"
	"belfry/internal/notifications"
	"belfry/internal/playlist"
	"belfry/internal/segment"
	"belfry/internal/services"
)

// paging cursors from the cloud can misbehave; cap the walk regardless.
const maxEventPages = 64

// Deps carries the collaborators one orchestrator needs. Logger is required;
// Metrics and Notifier default to inert implementations, Now defaults to
// time.Now.
type Deps struct {
	Config    *config.Config
	Client    cloud.Client
	Ledger    *ledger.Ledger
	Journal   *journal.Journal
	Assembler *assemble.Assembler
	Notifier  notifications.Service
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Summary reports the outcome of one archive cycle.
type Summary struct {
	CycleID            string
	Doorbells          int
	EventsSeen         int
	EventsProcessed    int
	EventsFailed       int
	MergeFailures      int
	SegmentsDownloaded int
	Duration           time.Duration
}

// Orchestrator runs archive cycles against the cloud service.
type Orchestrator struct {
	cfg       *config.Config
	client    cloud.Client
	ledger    *ledger.Ledger
	journal   *journal.Journal
	assembler *assemble.Assembler
	notifier  notifications.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger
	layout    segment.Layout
	now       func() time.Time
}

// New wires an orchestrator from its dependencies.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Config == nil:
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "config is required", nil)
	case deps.Client == nil:
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "cloud client is required", nil)
	case deps.Ledger == nil:
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "ledger is required", nil)
	case deps.Assembler == nil:
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "assembler is required", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Noop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       deps.Config,
		client:    deps.Client,
		ledger:    deps.Ledger,
		journal:   deps.Journal,
		assembler: deps.Assembler,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logging.NewComponentLogger(deps.Logger, "orchestrator"),
		layout:    segment.Layout{Root: deps.Config.Paths.SaveDir},
		now:       deps.Now,
	}, nil
}

// RunCycle performs one full poll-and-archive pass over every configured
// doorbell. New events are archived independently: a failure skips that
// event (it stays unrecorded and is retried next cycle) without aborting
// the rest. The ledger is committed once at the end of the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (summary Summary, err error) {
	started := o.now()
	cycleID := services.NewCycleID()
	ctx = services.WithCycleID(ctx, cycleID)
	logger := o.logger.With(logging.String(logging.FieldCycleID, cycleID))

	o.metrics.CycleStarted()
	summary = Summary{CycleID: cycleID}
	defer func() {
		summary.Duration = o.now().Sub(started)
		o.metrics.CycleFinished(summary.Duration)
	}()

	devices, err := o.client.Devices(ctx)
	if err != nil {
		wrapped := services.Wrap(services.ErrTransient, "orchestrator", "device list", "", err)
		o.notifyError(ctx, wrapped, "device discovery")
		return summary, wrapped
	}

	for _, name := range o.cfg.Doorbells.Names {
		device, ok := cloud.FindDoorbell(devices, name, o.cfg.Doorbells.ModelPrefix)
		if !ok {
			logger.Warn("configured doorbell not found in account",
				logging.String(logging.FieldDoorbell, name))
			continue
		}
		summary.Doorbells++
		o.ledger.EnsureDoor(name)
		o.runDoorbell(ctx, logger, device, &summary)
	}

	if err := o.ledger.Commit(); err != nil {
		wrapped := services.Wrap(services.ErrTransient, "orchestrator", "ledger commit", "", err)
		o.notifyError(ctx, wrapped, "ledger commit")
		return summary, wrapped
	}

	if summary.EventsProcessed > 0 || summary.EventsFailed > 0 {
		if err := o.notifier.NotifyCycleCompleted(ctx, summary.EventsProcessed, summary.EventsFailed, o.now().Sub(started)); err != nil {
			logger.Warn("cycle notification failed", logging.Error(err))
		}
	}

	logger.Info("cycle complete",
		logging.Int("doorbells", summary.Doorbells),
		logging.Int("events_seen", summary.EventsSeen),
		logging.Int("events_processed", summary.EventsProcessed),
		logging.Int("events_failed", summary.EventsFailed),
		logging.Int("merge_failures", summary.MergeFailures))
	return summary, nil
}

func (o *Orchestrator) runDoorbell(ctx context.Context, logger *slog.Logger, device cloud.Device, summary *Summary) {
	ctx = services.WithDoorbell(ctx, device.Name)
	logger = logger.With(logging.String(logging.FieldDoorbell, device.Name))

	events, err := o.collectNewEvents(ctx, device)
	if err != nil {
		logger.Error("event listing failed", logging.Error(err))
		o.notifyError(ctx, err, "doorbell "+device.Name)
		return
	}
	summary.EventsSeen += len(events)
	if len(events) == 0 {
		logger.Debug("no new events")
		return
	}
	logger.Info("new events found", logging.Int("count", len(events)))

	// Oldest first so an interrupted cycle leaves a chronologically
	// contiguous archive.
	sort.Slice(events, func(i, j int) bool { return events[i].EventTime < events[j].EventTime })

	for _, event := range events {
		eventStarted := o.now()
		outcome, err := o.processEvent(ctx, device, event)
		elapsed := o.now().Sub(eventStarted)
		if err != nil {
			summary.EventsFailed++
			o.metrics.IncEventsFailed()
			logger.Error("event skipped",
				logging.String(logging.FieldEventID, event.FileID),
				logging.Error(err))
			o.recordJournal(ctx, logger, journal.Entry{
				Doorbell:  device.Name,
				FileID:    event.FileID,
				EventType: event.EventType,
				EventTime: event.EventTime,
				Status:    journal.StatusFailed,
				Detail:    err.Error(),
				Duration:  elapsed,
			})
			o.notifyError(ctx, err, fmt.Sprintf("%s event %s", device.Name, event.FileID))
			continue
		}

		summary.EventsProcessed++
		summary.SegmentsDownloaded += outcome.segments
		o.metrics.IncEventsProcessed()
		o.metrics.AddSegmentsDownloaded(outcome.segments)

		status := journal.StatusCompleted
		if outcome.mergeFailed {
			status = journal.StatusMergeFailed
			summary.MergeFailures++
			o.metrics.IncAssemblyFailures()
			if err := o.notifier.NotifyMergeFailed(ctx, device.Name, event.FileID, outcome.path); err != nil {
				logger.Warn("merge failure notification failed", logging.Error(err))
			}
		}
		o.recordJournal(ctx, logger, journal.Entry{
			Doorbell:   device.Name,
			FileID:     event.FileID,
			EventType:  event.EventType,
			EventTime:  event.EventTime,
			Status:     status,
			OutputPath: outcome.path,
			Detail:     outcome.detail,
			Duration:   elapsed,
		})

		// The event is recorded even when the merge failed: its segments
		// are safely on disk and retrying the download would not help.
		o.ledger.Record(device.Name, event)
		logger.Info("event archived",
			logging.String(logging.FieldEventID, event.FileID),
			logging.String(logging.FieldEventType, event.EventType),
			logging.String("path", outcome.path),
			logging.Bool("merged", !outcome.mergeFailed && outcome.merged),
			logging.Int("segments", outcome.segments),
			logging.Duration("elapsed", elapsed))
	}
}

// collectNewEvents walks the event list backwards from now until the start
// of the configured window, filtering out events already in the ledger.
func (o *Orchestrator) collectNewEvents(ctx context.Context, device cloud.Device) ([]cloud.Event, error) {
	end := o.now().UnixMilli()
	begin := end - int64(o.cfg.Workflow.WindowHours)*time.Hour.Milliseconds()

	var fresh []cloud.Event
	for page := 0; page < maxEventPages; page++ {
		result, err := o.client.EventPage(ctx, device, cloud.EventQuery{
			BeginTime: begin,
			EndTime:   end,
			Limit:     o.cfg.Workflow.PageLimit,
		})
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "orchestrator", "event list", device.Name, err)
		}
		for _, event := range result.Items {
			if event.FileID == "" || o.ledger.IsProcessed(device.Name, event.FileID) {
				continue
			}
			fresh = append(fresh, event)
		}
		if !result.IsContinue {
			break
		}
		// The cursor must move strictly backwards through the window.
		if result.NextTime <= begin || result.NextTime >= end {
			break
		}
		end = result.NextTime
	}
	return fresh, nil
}

type eventOutcome struct {
	path        string
	merged      bool
	mergeFailed bool
	segments    int
	detail      string
}

func (o *Orchestrator) processEvent(ctx context.Context, device cloud.Device, event cloud.Event) (eventOutcome, error) {
	ctx = services.WithEventID(ctx, event.FileID)

	playlistURL, err := o.client.PlaylistURL(ctx, device, event.FileID)
	if err != nil {
		return eventOutcome{}, services.Wrap(services.ErrTransient, "orchestrator", "playlist url", "", err)
	}
	body, err := o.client.Fetch(ctx, playlistURL)
	if err != nil {
		return eventOutcome{}, services.Wrap(services.ErrTransient, "orchestrator", "playlist fetch", "", err)
	}
	enc, segments, err := playlist.Parse(ctx, body, o.client.Fetch)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, playlist.ErrMalformed) {
			marker = services.ErrValidation
		}
		return eventOutcome{}, services.Wrap(marker, "orchestrator", "playlist parse", "", err)
	}
	if len(segments) == 0 {
		return eventOutcome{}, services.Wrap(services.ErrValidation, "orchestrator", "playlist parse", "playlist lists no segments", nil)
	}

	paths := o.layout.EventPaths(device.Name, event.Time())
	writer, err := segment.NewWriter(paths)
	if err != nil {
		return eventOutcome{}, services.Wrap(services.ErrTransient, "orchestrator", "segment store", "", err)
	}

	if err := o.downloadSegments(ctx, enc, segments, writer); err != nil {
		return eventOutcome{}, err
	}

	manifestPath, count, err := writer.Finalize()
	if err != nil {
		return eventOutcome{}, services.Wrap(services.ErrValidation, "orchestrator", "segment store", "", err)
	}

	result := o.assembler.Assemble(ctx, assemble.Request{
		ManifestPath: manifestPath,
		OutputPath:   paths.VideoPath,
		SegmentCount: count,
	})

	outcome := eventOutcome{
		path:     result.Path,
		merged:   result.Merged,
		segments: count,
	}
	if result.Failure != nil {
		outcome.mergeFailed = true
		outcome.detail = result.Failure.Error()
	}
	return outcome, nil
}

// downloadSegments fetches, decrypts, and stores segments concurrently with
// a bounded worker pool. The first failure cancels the remaining work.
func (o *Orchestrator) downloadSegments(ctx context.Context, enc playlist.Encryption, segments []playlist.Segment, writer *segment.Writer) error {
	workers := o.cfg.Workflow.SegmentWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(segments) {
		workers = len(segments)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan playlist.Segment)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				if ctx.Err() != nil {
					return
				}
				data, err := o.client.Fetch(ctx, seg.URL)
				if err != nil {
					fail(services.Wrap(services.ErrTransient, "orchestrator", "segment fetch", fmt.Sprintf("segment %d", seg.Index), err))
					return
				}
				if enc.Enabled() {
					data, err = segment.Decrypt(enc.Key, enc.IV, data)
					if err != nil {
						fail(services.Wrap(services.ErrValidation, "orchestrator", "segment decrypt", fmt.Sprintf("segment %d", seg.Index), err))
						return
					}
				}
				if err := writer.Write(seg.Index, data); err != nil {
					fail(services.Wrap(services.ErrTransient, "orchestrator", "segment store", "", err))
					return
				}
			}
		}()
	}

	for _, seg := range segments {
		select {
		case jobs <- seg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (o *Orchestrator) recordJournal(ctx context.Context, logger *slog.Logger, entry journal.Entry) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(ctx, entry); err != nil {
		logger.Warn("journal write failed", logging.Error(err))
	}
}

func (o *Orchestrator) notifyError(ctx context.Context, err error, label string) {
	if notifyErr := o.notifier.NotifyError(ctx, err, label); notifyErr != nil {
		o.logger.Warn("error notification failed", logging.Error(notifyErr))
	}
}
