package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/meetvoice/internal/confirm"
	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
)

const (
	unknownName    = "Unknown"
	unknownCompany = "Unknown"
	defaultTitle   = "Meeting"
	defaultPurpose = "General discussion"
)

// CommitResult is the outcome of a successful Commit.
type CommitResult struct {
	Contact meeting.Contact `json:"contact"`
	Meeting meeting.Meeting `json:"meeting"`
	IsNew   bool            `json:"isNewContact"`
}

// Commit turns a confirmed record into registry state:
//
//  1. the email is required;
//  2. the contact is found by case-insensitive email;
//  3. if absent it is created with "Unknown" name/company defaults;
//  4. if present, incoming name/phone/company overwrite only when present;
//  5. a voice-agent Meeting is built from purpose, duration and time;
//  6. contact and meeting are stored together.
//
// On any error the registry is left unchanged.
func (r *Registry) Commit(ctx context.Context, info meeting.ExtractedInfo, now time.Time) (CommitResult, error) {
	const op = "registry: commit"
	if err := ctx.Err(); err != nil {
		return CommitResult{}, fault.New(fault.Cancelled, op, err)
	}
	info = info.Clone()
	info.Normalize()

	email := meeting.Value(info.Email)
	if email == "" {
		return CommitResult{}, fault.Validation(op, "email is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		contact meeting.Contact
		isNew   bool
	)
	if id, ok := r.byEmail[emailKey(email)]; ok {
		contact = r.contacts[id].Clone()
		applyPatch(&contact, ContactPatch{Name: info.Name, Phone: info.Phone, Company: info.Company})
	} else {
		isNew = true
		contact = meeting.Contact{
			ID:             r.newID(),
			Name:           orDefault(info.Name, unknownName),
			Email:          email,
			Phone:          meeting.Value(info.Phone),
			Company:        orDefault(info.Company, unknownCompany),
			MeetingHistory: []string{},
			CreatedAt:      now,
		}
		if _, dup := r.contacts[contact.ID]; dup {
			return CommitResult{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("duplicate contact id %q", contact.ID))
		}
	}
	contact.LastContact = now

	m := r.buildMeeting(info, contact.ID, now)
	if err := validateMeeting(op, m); err != nil {
		return CommitResult{}, err
	}
	if _, dup := r.meetings[m.ID]; dup {
		return CommitResult{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("duplicate meeting id %q", m.ID))
	}
	contact.MeetingHistory = append(contact.MeetingHistory, m.ID)

	if err := ctx.Err(); err != nil {
		return CommitResult{}, fault.New(fault.Cancelled, op, err)
	}
	if err := r.persist(ctx, op, Change{Contacts: []meeting.Contact{contact}, Meetings: []meeting.Meeting{m}}); err != nil {
		return CommitResult{}, err
	}
	r.putMeeting(m)
	r.putContact(contact)

	return CommitResult{Contact: contact.Clone(), Meeting: m, IsNew: isNew}, nil
}

func (r *Registry) buildMeeting(info meeting.ExtractedInfo, contactID string, now time.Time) meeting.Meeting {
	purpose := meeting.Value(info.MeetingPurpose)
	title := defaultTitle
	if purpose != "" {
		title = purpose
	} else {
		purpose = defaultPurpose
	}
	duration := meeting.ParseDuration(meeting.Value(info.Duration))
	start := meeting.ResolveTime(now, meeting.Value(info.MeetingTime), r.resolution)

	return meeting.Meeting{
		ID:            r.newID(),
		ContactID:     contactID,
		Title:         title,
		ScheduledTime: start,
		Duration:      duration,
		Purpose:       purpose,
		Status:        meeting.StatusScheduled,
		CalendarLink:  confirm.CalendarLink(title, start, duration),
		CreatedAt:     now,
		Source:        meeting.SourceVoiceAgent,
	}
}

func orDefault(p *string, def string) string {
	if v := meeting.Value(p); v != "" {
		return v
	}
	return def
}
