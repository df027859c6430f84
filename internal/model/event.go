package model

import "time"

// EventKind identifies the type of a synchronization event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventNewEmails    EventKind = "new_emails"
	EventSyncError    EventKind = "sync_error"
)

// Event is one externally observable emission from a session. Sessions
// publish events onto a channel owned by the session manager; the
// manager multiplexes all sessions into one outbound stream. The event
// already names its account, so the manager adds nothing in transit.
type Event struct {
	Kind      EventKind `json:"kind"`
	AccountID string    `json:"accountId"`
	Time      time.Time `json:"time"`

	// Messages is set for new_emails events.
	Messages []Message `json:"messages,omitempty"`

	// Err is set for sync_error events.
	Err error `json:"-"`
}

// ErrorText returns the error string for JSON payloads, empty when the
// event carries no error.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
