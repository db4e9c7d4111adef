// Package confirm renders the human-readable result of a commit.
package confirm

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/meetvoice/internal/meeting"
)

// timeLayout renders the scheduled time, e.g. "Tue, Oct 20 at 2:00 PM".
const timeLayout = "Mon, Jan 2 at 3:04 PM"

// Format states who the meeting is with, what and when it is, how long it
// lasts and whether the contact is new. It is a pure function of its inputs.
func Format(c meeting.Contact, m meeting.Meeting, isNew bool) string {
	status := "Existing contact updated"
	if isNew {
		status = "New contact added"
	}
	return fmt.Sprintf("Meeting scheduled with %s (%s): %q on %s for %s. %s.",
		c.Name, c.Email, m.Title, m.ScheduledTime.Format(timeLayout), formatDuration(m.Duration), status)
}

// ReadBack renders a pending record for spoken confirmation. Absent fields
// are skipped; a missing email is called out because approval needs it.
func ReadBack(info meeting.ExtractedInfo) string {
	if info.Empty() {
		return "I did not catch any meeting details. Please try again."
	}
	var b strings.Builder
	b.WriteString("Please confirm a meeting")
	if v := meeting.Value(info.Name); v != "" {
		b.WriteString(" with " + v)
	}
	if v := meeting.Value(info.Company); v != "" {
		b.WriteString(" from " + v)
	}
	if v := meeting.Value(info.MeetingTime); v != "" {
		b.WriteString(", " + v)
	}
	if v := meeting.Value(info.MeetingPurpose); v != "" {
		b.WriteString(", about " + v)
	}
	if v := meeting.Value(info.Duration); v != "" {
		b.WriteString(", for " + formatDuration(meeting.ParseDuration(v)))
	}
	b.WriteString(".")
	if meeting.Value(info.Email) == "" {
		b.WriteString(" I still need an email address.")
	}
	return b.String()
}

func formatDuration(minutes int) string {
	switch {
	case minutes == 60:
		return "1 hour"
	case minutes > 60 && minutes%60 == 0:
		return strconv.Itoa(minutes/60) + " hours"
	case minutes == 1:
		return "1 minute"
	}
	return strconv.Itoa(minutes) + " minutes"
}

// calendarBase is the Google Calendar event template endpoint.
const calendarBase = "https://calendar.google.com/calendar/render"

// calendarTime is the compact UTC form the template expects.
const calendarTime = "20060102T150405Z"

// CalendarLink builds a Google Calendar "add event" link for the meeting.
// A zero start yields a link carrying the title only.
func CalendarLink(title string, start time.Time, durationMinutes int) string {
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", title)
	if !start.IsZero() {
		if durationMinutes <= 0 {
			durationMinutes = meeting.DefaultDuration
		}
		end := start.Add(time.Duration(durationMinutes) * time.Minute)
		q.Set("dates", start.UTC().Format(calendarTime)+"/"+end.UTC().Format(calendarTime))
	}
	return calendarBase + "?" + q.Encode()
}
