package cloud

import (
	"strings"
	"time"
)

// Device is one entry from the cloud device list.
type Device struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	DID   string `json:"did"`
}

// IsDoorbell reports whether the device model marks it as doorbell-class.
func (d Device) IsDoorbell(modelPrefix string) bool {
	return strings.HasPrefix(d.Model, modelPrefix)
}

// FindDoorbell returns the device matching name exactly among doorbell-class
// devices.
func FindDoorbell(devices []Device, name, modelPrefix string) (Device, bool) {
	for _, d := range devices {
		if d.IsDoorbell(modelPrefix) && d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// Event is one detected occurrence with an associated video clip. The JSON
// field names match both the cloud API items and the ledger snapshot format.
type Event struct {
	EventTime int64  `json:"eventTime"`
	FileID    string `json:"fileId"`
	EventType string `json:"eventType"`
}

// Time returns the event time as a local time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.EventTime)
}

// TypeLabel returns a human-readable description of the event type.
func (e Event) TypeLabel() string {
	switch e.EventType {
	case "Pass":
		return "someone passed by"
	case "Pass:Stay":
		return "someone lingered at the door"
	case "Bell", "Pass:Bell":
		return "doorbell pressed"
	default:
		return e.EventType
	}
}

// Description combines the event time and type label for logs and tables.
func (e Event) Description() string {
	return e.Time().Format("2006-01-02 15:04:05") + " " + e.TypeLabel()
}

// EventPage is one page of the cloud event list API. NextTime is the
// continuation cursor for the next (older) page while IsContinue is set.
type EventPage struct {
	IsContinue bool
	NextTime   int64
	Items      []Event
}
