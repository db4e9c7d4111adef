package meeting

import (
	"fmt"
	"strings"
)

// Field names an ExtractedInfo field. The string values double as the JSON
// keys of the extraction contract.
type Field string

const (
	FieldName           Field = "name"
	FieldEmail          Field = "email"
	FieldPhone          Field = "phone"
	FieldCompany        Field = "company"
	FieldMeetingTime    Field = "meetingTime"
	FieldMeetingPurpose Field = "meetingPurpose"
	FieldDuration       Field = "duration"
)

// Fields lists every Field in display order.
var Fields = []Field{FieldName, FieldEmail, FieldPhone, FieldCompany, FieldMeetingTime, FieldMeetingPurpose, FieldDuration}

// ParseField converts s to a Field.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("meeting: unknown field %q", s)
}

// ExtractedInfo is a best-effort partial meeting record. A nil field is
// absent; an empty string is never stored.
type ExtractedInfo struct {
	Name           *string `json:"name,omitempty"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Company        *string `json:"company,omitempty"`
	MeetingTime    *string `json:"meetingTime,omitempty"`
	MeetingPurpose *string `json:"meetingPurpose,omitempty"`
	Duration       *string `json:"duration,omitempty"`
}

// Text returns a pointer to the trimmed s, or nil when s is blank.
func Text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences p, returning "" when absent.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (e *ExtractedInfo) ptr(f Field) **string {
	switch f {
	case FieldName:
		return &e.Name
	case FieldEmail:
		return &e.Email
	case FieldPhone:
		return &e.Phone
	case FieldCompany:
		return &e.Company
	case FieldMeetingTime:
		return &e.MeetingTime
	case FieldMeetingPurpose:
		return &e.MeetingPurpose
	case FieldDuration:
		return &e.Duration
	}
	return nil
}

// Get returns the value of f and whether it is present.
func (e ExtractedInfo) Get(f Field) (string, bool) {
	p := e.ptr(f)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

// Set stores value in f. A blank value clears the field.
func (e *ExtractedInfo) Set(f Field, value string) error {
	p := e.ptr(f)
	if p == nil {
		return fmt.Errorf("meeting: unknown field %q", f)
	}
	*p = Text(value)
	return nil
}

// Fill copies every field of other that is present in other and absent in e.
// Present fields of e are never overwritten.
func (e *ExtractedInfo) Fill(other ExtractedInfo) {
	for _, f := range Fields {
		dst := e.ptr(f)
		if *dst != nil {
			continue
		}
		if v, ok := other.Get(f); ok {
			*dst = Text(v)
		}
	}
}

// Clone returns a copy that shares no pointers with e.
func (e ExtractedInfo) Clone() ExtractedInfo {
	var out ExtractedInfo
	out.Fill(e)
	return out
}

// Empty reports whether no field is present.
func (e ExtractedInfo) Empty() bool {
	for _, f := range Fields {
		if _, ok := e.Get(f); ok {
			return false
		}
	}
	return true
}

// Normalize trims every field and drops blank ones.
func (e *ExtractedInfo) Normalize() {
	for _, f := range Fields {
		p := e.ptr(f)
		if *p != nil {
			*p = Text(**p)
		}
	}
}

// FillFromContact copies directory identity into absent fields.
func (e *ExtractedInfo) FillFromContact(k KnownContact) {
	e.Fill(ExtractedInfo{
		Name:    Text(k.Name),
		Email:   Text(k.Email),
		Phone:   Text(k.Phone),
		Company: Text(k.Company),
	})
}
