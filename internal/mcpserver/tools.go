package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/meetvoice/internal/confirm"
	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/registry"
)

// ── find_contact ────────────────────────────────────────────────────────────

type findContactInput struct {
	Name    string `json:"name,omitempty" jsonschema:"spoken or partial name of the person"`
	Company string `json:"company,omitempty" jsonschema:"company the person works for"`
}

type findContactOutput struct {
	Found   bool                  `json:"found"`
	Contact *meeting.KnownContact `json:"contact,omitempty"`
}

func (s *Server) findContact(_ context.Context, in findContactInput) (any, error) {
	if strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Company) == "" {
		return nil, errors.New("name or company is required")
	}
	k, ok := s.deps.Directory.Find(in.Name, in.Company)
	if !ok {
		return findContactOutput{}, nil
	}
	return findContactOutput{Found: true, Contact: &k}, nil
}

// ── list_upcoming_meetings ──────────────────────────────────────────────────

type listUpcomingInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of meetings to return"`
}

type meetingsOutput struct {
	Meetings []meeting.Meeting `json:"meetings"`
}

func (s *Server) listUpcoming(_ context.Context, in listUpcomingInput) (any, error) {
	ms := s.deps.Registry.UpcomingMeetings(s.deps.Clock())
	if in.Limit > 0 && len(ms) > in.Limit {
		ms = ms[:in.Limit]
	}
	return meetingsOutput{Meetings: nonNil(ms)}, nil
}

// ── meetings_for_contact ────────────────────────────────────────────────────

type meetingsForContactInput struct {
	ContactID string `json:"contactId" jsonschema:"registry contact id"`
}

func (s *Server) meetingsForContact(_ context.Context, in meetingsForContactInput) (any, error) {
	ms, err := s.deps.Registry.MeetingsByContact(in.ContactID)
	if err != nil {
		return nil, err
	}
	return meetingsOutput{Meetings: nonNil(ms)}, nil
}

// ── extract_meeting ─────────────────────────────────────────────────────────

type extractMeetingInput struct {
	Transcript string `json:"transcript" jsonschema:"what the user said about the meeting"`
}

func (s *Server) extractMeeting(ctx context.Context, in extractMeetingInput) (any, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, errors.New("transcript is required")
	}
	info, err := s.deps.Extractor.Extract(ctx, in.Transcript)
	if err != nil {
		return nil, fault.Wrap("mcpserver: extract_meeting", err, fault.ExtractionFailed)
	}
	return info, nil
}

// ── schedule_meeting ────────────────────────────────────────────────────────

type scheduleMeetingInput struct {
	Name           string `json:"name,omitempty"`
	Email          string `json:"email" jsonschema:"email address of the attendee"`
	Phone          string `json:"phone,omitempty"`
	Company        string `json:"company,omitempty"`
	MeetingTime    string `json:"meetingTime,omitempty" jsonschema:"free text such as 'tomorrow at 2pm'"`
	MeetingPurpose string `json:"meetingPurpose,omitempty"`
	Duration       string `json:"duration,omitempty" jsonschema:"length in minutes"`
}

type scheduleMeetingOutput struct {
	registry.CommitResult
	Confirmation string `json:"confirmation"`
}

func (s *Server) scheduleMeeting(ctx context.Context, in scheduleMeetingInput) (any, error) {
	info := meeting.ExtractedInfo{
		Name:           meeting.Text(in.Name),
		Email:          meeting.Text(in.Email),
		Phone:          meeting.Text(in.Phone),
		Company:        meeting.Text(in.Company),
		MeetingTime:    meeting.Text(in.MeetingTime),
		MeetingPurpose: meeting.Text(in.MeetingPurpose),
		Duration:       meeting.Text(in.Duration),
	}
	res, err := s.deps.Registry.Commit(ctx, info, s.deps.Clock())
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordCommit(ctx, res.IsNew)
	return scheduleMeetingOutput{
		CommitResult: res,
		Confirmation: confirm.Format(res.Contact, res.Meeting, res.IsNew),
	}, nil
}

// ── set_meeting_status ──────────────────────────────────────────────────────

type setMeetingStatusInput struct {
	MeetingID string `json:"meetingId"`
	Status    string `json:"status" jsonschema:"completed or cancelled"`
}

func (s *Server) setMeetingStatus(ctx context.Context, in setMeetingStatusInput) (any, error) {
	return s.deps.Registry.SetMeetingStatus(ctx, in.MeetingID, meeting.Status(in.Status))
}

func nonNil(ms []meeting.Meeting) []meeting.Meeting {
	if ms == nil {
		return []meeting.Meeting{}
	}
	return ms
}
