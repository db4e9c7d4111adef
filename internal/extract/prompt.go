package extract

import "strings"

// systemPrompt is the fixed extraction contract. %DIRECTORY% is replaced by
// the directory JSON on every call so that hot reloads are picked up.
const systemPrompt = `You extract meeting details from a voice note.

Return exactly one JSON object and nothing else. Allowed keys:
  "name", "email", "phone", "company", "meetingTime", "meetingPurpose", "duration"

Rules:
- Include a key only if you can confidently infer its value. Never output null
  or empty strings for unknown fields; omit the key instead.
- "meetingTime" is the time phrase as spoken, e.g. "tomorrow at 2pm".
- "duration" is the length in minutes as a string, e.g. "30".
- If the person or company matches an entry of the known contacts below, copy
  the name, email, phone and company from that entry. Never invent an email
  address or phone number.

Known contacts:
%DIRECTORY%`

func buildPrompt(directoryJSON string) string {
	return strings.Replace(systemPrompt, "%DIRECTORY%", directoryJSON, 1)
}
