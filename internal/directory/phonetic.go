package directory

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen keeps short filler words ("a", "at") from matching.
	minTokenLen = 3
)

// soundsLike matches a query against names in two stages:
//
//  1. Phonetic filtering: a name is a candidate when any Double Metaphone
//     code of a query token equals a code of one of its tokens.
//  2. Jaro-Winkler scoring: the candidate's best pairwise token score must
//     reach the phonetic threshold. Names without phonetic overlap need the
//     higher fuzzy threshold.
//
// The first name in order that passes is returned, consistent with the
// substring rules.
type soundsLike struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newSoundsLike() *soundsLike {
	return &soundsLike{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

func (s *soundsLike) match(query string, names []string) (int, bool) {
	var qTokens []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) >= minTokenLen {
			qTokens = append(qTokens, t)
		}
	}
	if len(qTokens) == 0 {
		return -1, false
	}
	qCodes := codesForTokens(qTokens)

	for i, name := range names {
		nTokens := strings.Fields(strings.ToLower(name))
		if len(nTokens) == 0 {
			continue
		}
		score := bestPairScore(qTokens, nTokens)
		threshold := s.fuzzyThreshold
		if codesOverlap(qCodes, codesForTokens(nTokens)) {
			threshold = s.phoneticThreshold
		}
		if score >= threshold {
			return i, true
		}
	}
	return -1, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens, excluding empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestPairScore is the highest Jaro-Winkler similarity between any query
// token and any name token.
func bestPairScore(qTokens, nTokens []string) float64 {
	var best float64
	for _, q := range qTokens {
		for _, n := range nTokens {
			if s := matchr.JaroWinkler(q, n, false); s > best {
				best = s
			}
		}
	}
	return best
}
