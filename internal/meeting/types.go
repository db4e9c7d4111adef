// Package meeting holds the data model shared by every stage of the
// scheduling pipeline: the read-only directory entry, the partial record
// produced by extraction, and the registry-owned Contact and Meeting.
package meeting

import (
	"fmt"
	"time"
)

// KnownContact is an immutable directory entry.
type KnownContact struct {
	Name    string `yaml:"name" json:"name"`
	Email   string `yaml:"email" json:"email"`
	Phone   string `yaml:"phone,omitempty" json:"phone,omitempty"`
	Company string `yaml:"company" json:"company"`
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Notes   string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Contact is a person the user has met, owned by the registry.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`

	// MeetingHistory lists meeting IDs in creation order. Append-only.
	MeetingHistory []string `json:"meetingHistory"`

	CreatedAt   time.Time `json:"createdAt"`
	LastContact time.Time `json:"lastContact"`
}

// Clone returns a deep copy so that callers never share the history slice
// with the registry.
func (c Contact) Clone() Contact {
	c.MeetingHistory = append([]string(nil), c.MeetingHistory...)
	return c
}

// Status is the lifecycle state of a Meeting.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("meeting: unknown status %q", s)
	}
	return st, nil
}

// Source records where a Meeting came from.
type Source string

const (
	SourceVoiceAgent Source = "voice-agent"
	SourceManual     Source = "manual"
	SourceImport     Source = "import"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceVoiceAgent, SourceManual, SourceImport:
		return true
	}
	return false
}

// Meeting is a scheduled conversation with one Contact. Meetings are never
// deleted; only their Status changes.
type Meeting struct {
	ID            string    `json:"id"`
	ContactID     string    `json:"contactId"`
	Title         string    `json:"title"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Duration      int       `json:"duration"` // minutes
	Purpose       string    `json:"purpose"`
	Status        Status    `json:"status"`
	CalendarLink  string    `json:"calendarLink,omitempty"`
	EmailSent     bool      `json:"emailSent"`
	CreatedAt     time.Time `json:"createdAt"`
	Source        Source    `json:"source"`
}

// End returns the scheduled end time.
func (m Meeting) End() time.Time {
	return m.ScheduledTime.Add(time.Duration(m.Duration) * time.Minute)
}
