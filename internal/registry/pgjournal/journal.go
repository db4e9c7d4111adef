// Package pgjournal persists the registry to PostgreSQL.
//
// Each [registry.Change] is written in one transaction as whole-record
// upserts, so a crash never leaves a meeting without its contact's history
// entry. Meeting history is stored as a JSONB array on the contact row.
package pgjournal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/registry"
)

// Schema is the SQL DDL for the contacts and meetings tables. Execute it via
// [Journal.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    email           TEXT NOT NULL,
    phone           TEXT NOT NULL DEFAULT '',
    company         TEXT NOT NULL DEFAULT '',
    meeting_history JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL,
    last_contact    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email ON contacts(lower(email));

CREATE TABLE IF NOT EXISTS meetings (
    id             TEXT PRIMARY KEY,
    contact_id     TEXT NOT NULL REFERENCES contacts(id),
    title          TEXT NOT NULL,
    scheduled_time TIMESTAMPTZ NOT NULL,
    duration       INTEGER NOT NULL CHECK (duration > 0),
    purpose        TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'scheduled',
    calendar_link  TEXT NOT NULL DEFAULT '',
    email_sent     BOOLEAN NOT NULL DEFAULT false,
    source         TEXT NOT NULL DEFAULT 'manual',
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meetings_contact ON meetings(contact_id);
CREATE INDEX IF NOT EXISTS idx_meetings_upcoming ON meetings(scheduled_time) WHERE status = 'scheduled';
`

// DB is the database interface used by [Journal]. *pgxpool.Pool satisfies
// it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// ErrDuplicateEmail is returned by Apply when a contact's email collides
// with another contact's row.
var ErrDuplicateEmail = errors.New("pgjournal: duplicate contact email")

// Journal implements registry.Journal on PostgreSQL.
type Journal struct {
	db DB
}

var _ registry.Journal = (*Journal)(nil)

// New returns a Journal using db. The caller is responsible for calling
// [Journal.Migrate] before the first Apply.
func New(db DB) *Journal {
	return &Journal{db: db}
}

// Migrate executes the [Schema] DDL.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgjournal: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	if err := j.db.Ping(ctx); err != nil {
		return fmt.Errorf("pgjournal: ping: %w", err)
	}
	return nil
}

const upsertContact = `
	INSERT INTO contacts (id, name, email, phone, company, meeting_history, created_at, last_contact)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		company = EXCLUDED.company,
		meeting_history = EXCLUDED.meeting_history,
		last_contact = EXCLUDED.last_contact`

const upsertMeeting = `
	INSERT INTO meetings (
		id, contact_id, title, scheduled_time, duration, purpose,
		status, calendar_link, email_sent, source, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		scheduled_time = EXCLUDED.scheduled_time,
		duration = EXCLUDED.duration,
		purpose = EXCLUDED.purpose,
		status = EXCLUDED.status,
		calendar_link = EXCLUDED.calendar_link,
		email_sent = EXCLUDED.email_sent`

// Apply implements registry.Journal. Contacts are written before meetings
// so the foreign key is satisfied within the transaction.
func (j *Journal) Apply(ctx context.Context, ch registry.Change) (err error) {
	tx, err := j.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgjournal: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, c := range ch.Contacts {
		history, mErr := json.Marshal(emptySlice(c.MeetingHistory))
		if mErr != nil {
			return fmt.Errorf("pgjournal: marshal meeting_history: %w", mErr)
		}
		if _, err = tx.Exec(ctx, upsertContact,
			c.ID, c.Name, c.Email, c.Phone, c.Company, history, c.CreatedAt, c.LastContact,
		); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateEmail, c.Email)
			}
			return fmt.Errorf("pgjournal: upsert contact %q: %w", c.ID, err)
		}
	}
	for _, m := range ch.Meetings {
		if _, err = tx.Exec(ctx, upsertMeeting,
			m.ID, m.ContactID, m.Title, m.ScheduledTime, m.Duration, m.Purpose,
			string(m.Status), m.CalendarLink, m.EmailSent, string(m.Source), m.CreatedAt,
		); err != nil {
			return fmt.Errorf("pgjournal: upsert meeting %q: %w", m.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgjournal: commit: %w", err)
	}
	return nil
}

// Load implements registry.Journal.
func (j *Journal) Load(ctx context.Context) ([]meeting.Contact, []meeting.Meeting, error) {
	contacts, err := j.loadContacts(ctx)
	if err != nil {
		return nil, nil, err
	}
	meetings, err := j.loadMeetings(ctx)
	if err != nil {
		return nil, nil, err
	}
	return contacts, meetings, nil
}

func (j *Journal) loadContacts(ctx context.Context) ([]meeting.Contact, error) {
	const query = `
		SELECT id, name, email, phone, company, meeting_history, created_at, last_contact
		FROM contacts
		ORDER BY created_at, id`

	rows, err := j.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgjournal: load contacts: %w", err)
	}
	defer rows.Close()

	var out []meeting.Contact
	for rows.Next() {
		var (
			c       meeting.Contact
			history []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &history, &c.CreatedAt, &c.LastContact); err != nil {
			return nil, fmt.Errorf("pgjournal: scan contact: %w", err)
		}
		if err := json.Unmarshal(history, &c.MeetingHistory); err != nil {
			return nil, fmt.Errorf("pgjournal: unmarshal meeting_history of %q: %w", c.ID, err)
		}
		c.MeetingHistory = emptySlice(c.MeetingHistory)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgjournal: load contacts: %w", err)
	}
	return out, nil
}

func (j *Journal) loadMeetings(ctx context.Context) ([]meeting.Meeting, error) {
	const query = `
		SELECT id, contact_id, title, scheduled_time, duration, purpose,
		       status, calendar_link, email_sent, source, created_at
		FROM meetings
		ORDER BY created_at, id`

	rows, err := j.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgjournal: load meetings: %w", err)
	}
	defer rows.Close()

	var out []meeting.Meeting
	for rows.Next() {
		var (
			m              meeting.Meeting
			status, source string
		)
		if err := rows.Scan(
			&m.ID, &m.ContactID, &m.Title, &m.ScheduledTime, &m.Duration, &m.Purpose,
			&status, &m.CalendarLink, &m.EmailSent, &source, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("pgjournal: scan meeting: %w", err)
		}
		m.Status = meeting.Status(status)
		m.Source = meeting.Source(source)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgjournal: load meetings: %w", err)
	}
	return out, nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice, so JSON
// marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
