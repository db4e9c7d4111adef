// Package registry is the authoritative store of contacts and meetings.
//
// Email is the only deduplication key: at most one Contact exists per
// case-insensitive email. Meetings are never deleted, only moved between
// statuses, and every Meeting references an existing Contact whose
// MeetingHistory lists it.
//
// Records are stored as values and replaced whole under the write lock, so
// readers never observe a half-applied update. When a [Journal] is
// configured every mutation is persisted before it becomes visible in
// memory; a journal failure aborts the mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
)

// ErrNotFound is returned by lookups and updates of unknown ids.
var ErrNotFound = errors.New("registry: not found")

// Change is one atomic set of whole-record upserts.
type Change struct {
	Contacts []meeting.Contact
	Meetings []meeting.Meeting
}

// Journal persists registry mutations.
type Journal interface {
	// Apply upserts every record of ch in a single transaction.
	Apply(ctx context.Context, ch Change) error

	// Load returns all persisted contacts and meetings, each in creation order.
	Load(ctx context.Context) ([]meeting.Contact, []meeting.Meeting, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithJournal persists every mutation to j.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithClock replaces time.Now for operations that stamp records.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// WithTimeResolution selects how Commit turns the spoken meeting time into
// a timestamp.
func WithTimeResolution(mode meeting.TimeResolution) Option {
	return func(r *Registry) { r.resolution = mode }
}

// Registry holds contacts and meetings in memory.
type Registry struct {
	journal    Journal
	newID      func() string
	now        func() time.Time
	resolution meeting.TimeResolution

	mu           sync.RWMutex
	contacts     map[string]meeting.Contact
	contactOrder []string
	byEmail      map[string]string
	meetings     map[string]meeting.Meeting
	meetingOrder []string
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		newID:      uuid.NewString,
		now:        time.Now,
		resolution: meeting.ResolvePlaceholder,
		contacts:   make(map[string]meeting.Contact),
		byEmail:    make(map[string]string),
		meetings:   make(map[string]meeting.Meeting),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ── Reads ──────────────────────────────────────────────────────────────────

// Contact returns the contact with id.
func (r *Registry) Contact(id string) (meeting.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c.Clone(), ok
}

// ContactByEmail returns the contact whose email matches case-insensitively.
func (r *Registry) ContactByEmail(email string) (meeting.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[emailKey(email)]
	if !ok {
		return meeting.Contact{}, false
	}
	return r.contacts[id].Clone(), true
}

// Contacts returns every contact in creation order.
func (r *Registry) Contacts() []meeting.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]meeting.Contact, 0, len(r.contactOrder))
	for _, id := range r.contactOrder {
		out = append(out, r.contacts[id].Clone())
	}
	return out
}

// Meeting returns the meeting with id.
func (r *Registry) Meeting(id string) (meeting.Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[id]
	return m, ok
}

// Meetings returns every meeting in creation order.
func (r *Registry) Meetings() []meeting.Meeting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]meeting.Meeting, 0, len(r.meetingOrder))
	for _, id := range r.meetingOrder {
		out = append(out, r.meetings[id])
	}
	return out
}

// Counts returns the number of contacts and meetings.
func (r *Registry) Counts() (contacts, meetings int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contacts), len(r.meetings)
}

// MeetingsByContact returns the contact's meetings in history order. An
// unknown id yields ErrNotFound.
func (r *Registry) MeetingsByContact(id string) ([]meeting.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, fmt.Errorf("registry: contact %q: %w", id, ErrNotFound)
	}
	out := make([]meeting.Meeting, 0, len(c.MeetingHistory))
	for _, mid := range c.MeetingHistory {
		out = append(out, r.meetings[mid])
	}
	return out, nil
}

// UpcomingMeetings returns scheduled meetings strictly after now, earliest
// first.
func (r *Registry) UpcomingMeetings(now time.Time) []meeting.Meeting {
	r.mu.RLock()
	var out []meeting.Meeting
	for _, id := range r.meetingOrder {
		m := r.meetings[id]
		if m.Status == meeting.StatusScheduled && m.ScheduledTime.After(now) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b meeting.Meeting) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	})
	return out
}

// ── Writes ─────────────────────────────────────────────────────────────────

// SetTimeResolution changes the mode used by later commits.
func (r *Registry) SetTimeResolution(mode meeting.TimeResolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolution = mode
}

// persist writes ch to the journal. Must be called with r.mu held.
func (r *Registry) persist(ctx context.Context, op string, ch Change) error {
	if r.journal == nil {
		return nil
	}
	if err := r.journal.Apply(ctx, ch); err != nil {
		return fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("journal: %w", err))
	}
	return nil
}

// put stores c. Must be called with r.mu held.
func (r *Registry) putContact(c meeting.Contact) {
	if _, exists := r.contacts[c.ID]; !exists {
		r.contactOrder = append(r.contactOrder, c.ID)
	}
	r.contacts[c.ID] = c
	r.byEmail[emailKey(c.Email)] = c.ID
}

// putMeeting stores m. Must be called with r.mu held.
func (r *Registry) putMeeting(m meeting.Meeting) {
	if _, exists := r.meetings[m.ID]; !exists {
		r.meetingOrder = append(r.meetingOrder, m.ID)
	}
	r.meetings[m.ID] = m
}

// AddContact inserts a new contact. The email is required and must not
// belong to another contact. A missing id or timestamps are filled in.
func (r *Registry) AddContact(ctx context.Context, c meeting.Contact) (meeting.Contact, error) {
	const op = "registry: add contact"
	if emailKey(c.Email) == "" {
		return meeting.Contact{}, fault.Validation(op, "email is required")
	}
	now := r.now()
	c = c.Clone()
	c.Email = strings.TrimSpace(c.Email)
	if c.ID == "" {
		c.ID = r.newID()
	}
	if c.MeetingHistory == nil {
		c.MeetingHistory = []string{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastContact.IsZero() {
		c.LastContact = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byEmail[emailKey(c.Email)]; dup {
		return meeting.Contact{}, fault.Validation(op, "a contact with email %s already exists", c.Email)
	}
	if _, dup := r.contacts[c.ID]; dup {
		return meeting.Contact{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("duplicate contact id %q", c.ID))
	}
	for _, mid := range c.MeetingHistory {
		if _, ok := r.meetings[mid]; !ok {
			return meeting.Contact{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("history references unknown meeting %q", mid))
		}
	}
	if err := r.persist(ctx, op, Change{Contacts: []meeting.Contact{c}}); err != nil {
		return meeting.Contact{}, err
	}
	r.putContact(c)
	return c.Clone(), nil
}

// AddMeeting appends m to the registry and to the history of the contact
// with contactID in one step. The contact's lastContact is bumped.
func (r *Registry) AddMeeting(ctx context.Context, m meeting.Meeting, contactID string) (meeting.Meeting, error) {
	const op = "registry: add meeting"
	now := r.now()
	if m.ID == "" {
		m.ID = r.newID()
	}
	m.ContactID = contactID
	if m.Status == "" {
		m.Status = meeting.StatusScheduled
	}
	if m.Source == "" {
		m.Source = meeting.SourceManual
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if err := validateMeeting(op, m); err != nil {
		return meeting.Meeting{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[contactID]
	if !ok {
		return meeting.Meeting{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("contact %q: %w", contactID, ErrNotFound))
	}
	if _, dup := r.meetings[m.ID]; dup {
		return meeting.Meeting{}, fault.New(fault.RegistryInvariantViolation, op, fmt.Errorf("duplicate meeting id %q", m.ID))
	}
	c = c.Clone()
	c.MeetingHistory = append(c.MeetingHistory, m.ID)
	c.LastContact = now

	if err := r.persist(ctx, op, Change{Contacts: []meeting.Contact{c}, Meetings: []meeting.Meeting{m}}); err != nil {
		return meeting.Meeting{}, err
	}
	r.putMeeting(m)
	r.putContact(c)
	return m, nil
}

func validateMeeting(op string, m meeting.Meeting) error {
	var errs []error
	if m.Duration <= 0 || m.Duration > meeting.MaxDuration {
		errs = append(errs, fmt.Errorf("duration must be between 1 and %d minutes, got %d", meeting.MaxDuration, m.Duration))
	}
	if !m.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", m.Status))
	}
	if !m.Source.Valid() {
		errs = append(errs, fmt.Errorf("unknown source %q", m.Source))
	}
	if m.ScheduledTime.IsZero() {
		errs = append(errs, errors.New("scheduled time is required"))
	}
	if len(errs) > 0 {
		return fault.New(fault.ValidationFailed, op, errors.Join(errs...))
	}
	return nil
}

// ContactPatch lists the contact fields UpdateContact may change. Nil
// fields are left untouched. Email is not patchable.
type ContactPatch struct {
	Name    *string
	Phone   *string
	Company *string
}

// UpdateContact applies p to the contact with id and bumps lastContact.
func (r *Registry) UpdateContact(ctx context.Context, id string, p ContactPatch) (meeting.Contact, error) {
	const op = "registry: update contact"
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return meeting.Contact{}, fmt.Errorf("%s %q: %w", op, id, ErrNotFound)
	}
	c = c.Clone()
	applyPatch(&c, p)
	c.LastContact = now

	if err := r.persist(ctx, op, Change{Contacts: []meeting.Contact{c}}); err != nil {
		return meeting.Contact{}, err
	}
	r.putContact(c)
	return c.Clone(), nil
}

func applyPatch(c *meeting.Contact, p ContactPatch) {
	if v := meeting.Value(p.Name); v != "" {
		c.Name = v
	}
	if v := meeting.Value(p.Phone); v != "" {
		c.Phone = v
	}
	if v := meeting.Value(p.Company); v != "" {
		c.Company = v
	}
}

// SetMeetingStatus moves the meeting with id to status.
func (r *Registry) SetMeetingStatus(ctx context.Context, id string, status meeting.Status) (meeting.Meeting, error) {
	const op = "registry: set meeting status"
	if !status.Valid() {
		return meeting.Meeting{}, fault.Validation(op, "unknown status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok {
		return meeting.Meeting{}, fmt.Errorf("%s %q: %w", op, id, ErrNotFound)
	}
	m.Status = status
	if err := r.persist(ctx, op, Change{Meetings: []meeting.Meeting{m}}); err != nil {
		return meeting.Meeting{}, err
	}
	r.putMeeting(m)
	return m, nil
}

// Load replaces the registry contents with the journal's. It is a no-op
// without a journal. Linkage is verified before anything is replaced.
func (r *Registry) Load(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	contacts, meetings, err := r.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}

	next := New()
	for _, m := range meetings {
		next.meetings[m.ID] = m
		next.meetingOrder = append(next.meetingOrder, m.ID)
	}
	for _, c := range contacts {
		if _, dup := next.byEmail[emailKey(c.Email)]; dup {
			return fault.New(fault.RegistryInvariantViolation, "registry: load", fmt.Errorf("duplicate email %s", c.Email))
		}
		if c.MeetingHistory == nil {
			c.MeetingHistory = []string{}
		}
		next.putContact(c)
	}
	for _, m := range meetings {
		c, ok := next.contacts[m.ContactID]
		if !ok || !slices.Contains(c.MeetingHistory, m.ID) {
			return fault.New(fault.RegistryInvariantViolation, "registry: load",
				fmt.Errorf("meeting %q is not linked to contact %q", m.ID, m.ContactID))
		}
	}

	r.mu.Lock()
	r.contacts, r.contactOrder, r.byEmail = next.contacts, next.contactOrder, next.byEmail
	r.meetings, r.meetingOrder = next.meetings, next.meetingOrder
	r.mu.Unlock()
	return nil
}
