package moderation

import (
	"iter"
	"time"
)

// Summary is the on-screen report derived from a (filtered) journal view.
type Summary struct {
	CountsByType  map[string]int `json:"countsByType"`
	MostCommon    string         `json:"mostCommon,omitempty"`
	Window        string         `json:"window"`
	Total         int            `json:"total"`
	DistinctUsers int            `json:"distinctUsers"`
	// RatePerHour is only meaningful when RateApplicable is true; an
	// unbounded window has no rate.
	RatePerHour    float64 `json:"ratePerHour"`
	RateApplicable bool    `json:"rateApplicable"`
}

// Summarize aggregates actions observed within window. It does not apply the
// window itself; pass a sequence already filtered with the same window.
func Summarize(seq iter.Seq[Action], window Window) Summary {
	counts := make(map[ActionType]int, len(ActionTypes))
	users := make(map[string]struct{})
	total := 0
	for a := range seq {
		total++
		counts[a.Type]++
		users[a.UserID] = struct{}{}
	}

	s := Summary{
		Total:         total,
		DistinctUsers: len(users),
		CountsByType:  make(map[string]int, len(counts)),
		Window:        window.String(),
	}
	best, bestN := ActionType(-1), 0
	for _, t := range ActionTypes {
		n := counts[t]
		s.CountsByType[t.String()] = n
		// strict > keeps the earliest type on ties
		if n > bestN {
			best, bestN = t, n
		}
	}
	if bestN > 0 {
		s.MostCommon = best.String()
	}
	if d, ok := window.Duration(); ok {
		s.RateApplicable = true
		s.RatePerHour = float64(total) / (float64(d) / float64(time.Hour))
	}
	return s
}
