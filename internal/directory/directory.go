// Package directory provides the read-only table of known contacts and the
// fuzzy lookups used to resolve a partial identity (a spoken first name, a
// company fragment) to a full directory entry.
//
// Lookups never rank candidates: the first entry in directory order that
// satisfies a rule wins. An optional sounds-like pass (Double Metaphone plus
// Jaro-Winkler) catches transcription misspellings such as "Fil" for "Phil"
// when the plain substring rules find nothing.
//
// A Directory is safe for concurrent use. Replace swaps the whole table at
// once so readers never observe a partially reloaded directory.
package directory

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/MrWong99/meetvoice/internal/meeting"
)

// Option configures a Directory.
type Option func(*Directory)

// WithPhonetic enables the sounds-like fallback for name lookups.
func WithPhonetic(enabled bool) Option {
	return func(d *Directory) {
		if enabled {
			d.phonetic = newSoundsLike()
		} else {
			d.phonetic = nil
		}
	}
}

// Directory is an ordered, read-only list of known contacts.
type Directory struct {
	mu       sync.RWMutex
	contacts []meeting.KnownContact
	phonetic *soundsLike
}

// New returns a Directory holding a copy of contacts in the given order.
func New(contacts []meeting.KnownContact, opts ...Option) *Directory {
	d := &Directory{contacts: clone(contacts)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Replace atomically swaps the directory contents.
func (d *Directory) Replace(contacts []meeting.KnownContact) {
	next := clone(contacts)
	d.mu.Lock()
	d.contacts = next
	d.mu.Unlock()
}

// SetPhonetic switches the sounds-like fallback on or off.
func (d *Directory) SetPhonetic(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	WithPhonetic(enabled)(d)
}

// All returns a copy of every entry in directory order.
func (d *Directory) All() []meeting.KnownContact {
	return clone(d.snapshot())
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	return len(d.snapshot())
}

// Vocabulary returns every contact and company name, deduplicated, for use
// as speech-recognition hints.
func (d *Directory) Vocabulary() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range d.snapshot() {
		for _, s := range []string{c.Name, c.Company} {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// JSON serialises the whole directory for inclusion in a model prompt.
func (d *Directory) JSON() string {
	b, err := json.Marshal(d.snapshot())
	if err != nil {
		return "[]"
	}
	return string(b)
}

// FindByName returns the first contact whose full name equals query
// (case-insensitive). Failing that, it returns the first contact for which
// some whitespace token of query is a substring of, or contains, some token
// of the contact's name.
func (d *Directory) FindByName(query string) (meeting.KnownContact, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return meeting.KnownContact{}, false
	}
	contacts := d.snapshot()

	for _, c := range contacts {
		if strings.ToLower(c.Name) == q {
			return c, true
		}
	}

	qTokens := strings.Fields(q)
	for _, c := range contacts {
		for _, nt := range strings.Fields(strings.ToLower(c.Name)) {
			for _, qt := range qTokens {
				if strings.Contains(nt, qt) || strings.Contains(qt, nt) {
					return c, true
				}
			}
		}
	}

	d.mu.RLock()
	ph := d.phonetic
	d.mu.RUnlock()
	if ph != nil {
		names := make([]string, len(contacts))
		for i, c := range contacts {
			names[i] = c.Name
		}
		if i, ok := ph.match(q, names); ok {
			return contacts[i], true
		}
	}
	return meeting.KnownContact{}, false
}

// FindByCompany returns the first contact whose company contains query or
// is contained in it, case-insensitively.
func (d *Directory) FindByCompany(query string) (meeting.KnownContact, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return meeting.KnownContact{}, false
	}
	for _, c := range d.snapshot() {
		if companiesMatch(c.Company, q) {
			return c, true
		}
	}
	return meeting.KnownContact{}, false
}

// Find resolves a name and/or company. A name match is accepted only when
// no company was given or the companies cross-match; otherwise the lookup
// falls back to the company alone. Empty arguments are treated as absent.
func (d *Directory) Find(name, company string) (meeting.KnownContact, bool) {
	company = strings.TrimSpace(company)
	if strings.TrimSpace(name) != "" {
		if c, ok := d.FindByName(name); ok {
			if company == "" || companiesMatch(c.Company, company) {
				return c, true
			}
		}
	}
	if company != "" {
		return d.FindByCompany(company)
	}
	return meeting.KnownContact{}, false
}

// companiesMatch reports a case-insensitive substring match in either direction.
func companiesMatch(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func (d *Directory) snapshot() []meeting.KnownContact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contacts
}

func clone(in []meeting.KnownContact) []meeting.KnownContact {
	return append([]meeting.KnownContact(nil), in...)
}
