package chat

import (
	"strings"
	"unicode"
)

// minCapsLetters is the shortest message considered for the caps check.
const minCapsLetters = 12

// Flagger decides whether a chat message needs a moderator decision.
type Flagger struct {
	keywords []string
}

// NewFlagger returns a Flagger matching keywords case-insensitively.
func NewFlagger(keywords []string) *Flagger {
	f := &Flagger{}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.keywords = append(f.keywords, k)
		}
	}
	return f
}

// ParseKeywords splits a comma separated CHAT_FLAG_KEYWORDS value.
func ParseKeywords(v string) []string {
	var out []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Check returns the reasons text is flagged, or nil.
func (f *Flagger) Check(text string) []string {
	var reasons []string
	lower := strings.ToLower(text)
	if f != nil {
		for _, k := range f.keywords {
			if strings.Contains(lower, k) {
				reasons = append(reasons, "keyword:"+k)
			}
		}
	}
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www.") {
		reasons = append(reasons, "link")
	}
	if shouting(text) {
		reasons = append(reasons, "caps")
	}
	return reasons
}

func shouting(text string) bool {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return letters >= minCapsLetters && upper*10 >= letters*7
}
