package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/pkg/provider"
)

// ParseRecord decodes a model reply into an ExtractedInfo. Markdown code
// fences and prose around the JSON object are tolerated; the outermost
// {...} span is decoded. Numbers are stringified, nulls and blank strings
// are treated as absent and unknown keys are ignored.
//
// Replies without a decodable object yield provider.ErrMalformedResponse.
func ParseRecord(reply string) (meeting.ExtractedInfo, error) {
	var info meeting.ExtractedInfo

	body := stripFences(reply)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end < start {
		return info, fmt.Errorf("extract: %w: no JSON object in reply", provider.ErrMalformedResponse)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return info, fmt.Errorf("extract: %w: %w", provider.ErrMalformedResponse, err)
	}

	for _, f := range meeting.Fields {
		v, ok := raw[string(f)]
		if !ok {
			continue
		}
		var s string
		switch tv := v.(type) {
		case string:
			s = tv
		case float64:
			s = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool, nil:
			continue
		default:
			return meeting.ExtractedInfo{}, fmt.Errorf("extract: %w: field %q has type %T", provider.ErrMalformedResponse, f, v)
		}
		_ = info.Set(f, s)
	}
	return info, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		// Drop the language tag line ("json").
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
