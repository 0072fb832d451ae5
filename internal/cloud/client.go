package cloud

import "context"

// EventQuery bounds one event-list request.
type EventQuery struct {
	BeginTime int64 // epoch milliseconds, inclusive
	EndTime   int64 // epoch milliseconds; paging cursor replaces this on later pages
	Limit     int
}

// Client is the surface the retrieval pipeline needs from the cloud service.
type Client interface {
	// Devices returns the account's device list.
	Devices(ctx context.Context) ([]Device, error)
	// EventPage fetches one page of events for a device. Callers page by
	// feeding page.NextTime back as query.EndTime while page.IsContinue.
	EventPage(ctx context.Context, device Device, query EventQuery) (EventPage, error)
	// PlaylistURL returns a signed URL for the event's media playlist.
	PlaylistURL(ctx context.Context, device Device, fileID string) (string, error)
	// Fetch performs a plain GET and returns the body. Used for the playlist
	// text, the decryption key, and individual segments.
	Fetch(ctx context.Context, url string) ([]byte, error)
}
