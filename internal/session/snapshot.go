package session

import (
	"time"

	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

// Snapshot is a consistent copy of a Session's observable state.
type Snapshot struct {
	ID        string `json:"id"`
	Step      Step   `json:"step"`
	Editing   bool   `json:"editing"`
	Busy      bool   `json:"busy"`
	Recording bool   `json:"recording"`

	// Record is the working record; EditRecord the copy being edited.
	Record     meeting.ExtractedInfo  `json:"record"`
	EditRecord *meeting.ExtractedInfo `json:"editRecord,omitempty"`

	Transcript string        `json:"transcript,omitempty"`
	Question   string        `json:"question,omitempty"`
	History    []llm.Message `json:"history,omitempty"`

	Contact      *meeting.Contact `json:"contact,omitempty"`
	Meeting      *meeting.Meeting `json:"meeting,omitempty"`
	IsNewContact bool             `json:"isNewContact"`
	Confirmation string           `json:"confirmation,omitempty"`

	Error *fault.Report `json:"error,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// subscriberBuffer bounds the snapshots queued per subscriber. When full the
// oldest queued snapshot is dropped; the newest always gets through.
const subscriberBuffer = 8

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Step:         s.step,
		Editing:      s.editing,
		Busy:         s.busy,
		Recording:    s.rec,
		Record:       s.record.Clone(),
		Transcript:   s.transcript,
		Question:     s.question,
		History:      append([]llm.Message(nil), s.history...),
		IsNewContact: s.isNew,
		Confirmation: s.confirmation,
		UpdatedAt:    s.updated,
	}
	if s.editing {
		e := s.edit.Clone()
		snap.EditRecord = &e
	}
	if s.contact != nil {
		c := s.contact.Clone()
		snap.Contact = &c
	}
	if s.meeting != nil {
		m := *s.meeting
		snap.Meeting = &m
	}
	if s.report != nil {
		r := *s.report
		snap.Error = &r
	}
	return snap
}

// Subscribe returns a channel that receives the current snapshot and then a
// snapshot after every change. The channel is closed when cancel is called
// or the session is closed.
func (s *Session) Subscribe() (updates <-chan Snapshot, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// notifyLocked stamps the change and fans the new snapshot out.
func (s *Session) notifyLocked() {
	s.updated = s.cfg.Clock()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
