package extract

import (
	"regexp"
	"strings"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/meeting"
)

// clock matches "3pm", "3 pm", "3:30pm" and "14:30".
const clock = `\d{1,2}(?::\d{2})?\s?(?:am|pm)\b|\d{1,2}:\d{2}`

// timePatterns are tried in order; the first match wins.
var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btomorrow at (?:` + clock + `)`),
	regexp.MustCompile(`(?i)\btomorrow\b`),
	regexp.MustCompile(`(?i)\bnext week\b`),
	regexp.MustCompile(`(?i)\bnext (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b(?: at (?:` + clock + `))?`),
	regexp.MustCompile(`(?i)\b(?:` + clock + `)`),
}

var (
	aboutRe     = regexp.MustCompile(`(?i)\babout\s+`)
	clauseEndRe = regexp.MustCompile(`(?i)\.|\n| and | but `)
	scheduleRe  = regexp.MustCompile(`(?i)\bschedule (?:a )?meeting\b`)

	withNameRe  = regexp.MustCompile(`\bwith\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	capNameRe   = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	withTokenRe = regexp.MustCompile(`(?i)\b(?:with|met)\s+([A-Za-z][\w'-]{2,})`)
	inFromRe    = regexp.MustCompile(`\b(?:in|from)\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*)*)`)
	atFromRe    = regexp.MustCompile(`\b(?:at|from)\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*)*)`)

	durationRe = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
	anHourRe   = regexp.MustCompile(`(?i)\bfor\s+(?:an|one)\s+hour\b`)
	halfHourRe = regexp.MustCompile(`(?i)\b(?:half an hour|30 min)\b`)
)

// Heuristic is the deterministic local extractor used when the remote model
// is unavailable. It never fails: unrecognised input yields an empty record.
// Identity fields come only from directory matches.
type Heuristic struct {
	dir *directory.Directory
}

// NewHeuristic returns a Heuristic resolving identities against dir.
func NewHeuristic(dir *directory.Directory) *Heuristic {
	return &Heuristic{dir: dir}
}

// Extract parses transcript.
func (h *Heuristic) Extract(transcript string) meeting.ExtractedInfo {
	var info meeting.ExtractedInfo
	info.MeetingTime = meeting.Text(findTime(transcript))
	info.MeetingPurpose = meeting.Text(findPurpose(transcript))
	info.Duration = meeting.Text(findDuration(transcript))
	if c, ok := h.resolveIdentity(transcript); ok {
		info.FillFromContact(c)
	}
	return info
}

func findTime(text string) string {
	for _, re := range timePatterns {
		if m := re.FindString(text); m != "" {
			return strings.ToLower(m)
		}
	}
	return ""
}

func findPurpose(text string) string {
	if loc := aboutRe.FindStringIndex(text); loc != nil {
		rest := text[loc[1]:]
		if end := clauseEndRe.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		if p := strings.TrimSpace(strings.TrimRight(rest, ",;:!?")); p != "" {
			return p
		}
	}
	if scheduleRe.MatchString(text) {
		return "meeting"
	}
	return ""
}

func findDuration(text string) string {
	if m := durationRe.FindStringSubmatch(text); m != nil {
		return m[1] + " " + strings.ToLower(m[2])
	}
	if anHourRe.MatchString(text) {
		return "60"
	}
	if halfHourRe.MatchString(text) {
		return "30"
	}
	return ""
}

// resolveIdentity runs the lookup cascade, stopping at the first directory
// hit:
//
//  1. capitalised name after "with", else the first capitalised word pair
//  2. the single token after "with"/"met", any case
//  3. a capitalised company after "in"/"from"
//  4. Find with the name and company candidates from "with"/"at"/"from"
func (h *Heuristic) resolveIdentity(text string) (meeting.KnownContact, bool) {
	if h.dir == nil {
		return meeting.KnownContact{}, false
	}

	var name string
	if m := withNameRe.FindStringSubmatch(text); m != nil {
		name = m[1]
	} else if m := capNameRe.FindStringSubmatch(text); m != nil {
		name = m[1]
	}
	if name != "" {
		if c, ok := h.dir.FindByName(name); ok {
			return c, true
		}
	}

	if m := withTokenRe.FindStringSubmatch(text); m != nil {
		if c, ok := h.dir.FindByName(m[1]); ok {
			return c, true
		}
	}

	if m := inFromRe.FindStringSubmatch(text); m != nil {
		if c, ok := h.dir.FindByCompany(m[1]); ok {
			return c, true
		}
	}

	var company string
	if m := atFromRe.FindStringSubmatch(text); m != nil {
		company = m[1]
	}
	withName := ""
	if m := withNameRe.FindStringSubmatch(text); m != nil {
		withName = m[1]
	}
	return h.dir.Find(withName, company)
}
