package templates

// Stats summarizes the catalogue.
type Stats struct {
	ByStatus             map[Status]int `json:"byStatus"`
	MostUsed             string         `json:"mostUsed,omitempty"`
	Total                int            `json:"total"`
	TotalUses            int            `json:"totalUses"`
	AverageEffectiveness float64        `json:"averageEffectiveness"`
}

// Stats computes catalogue statistics. The average effectiveness only
// considers templates with at least one recorded outcome.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return computeStats(r.items)
}

func computeStats(items map[string]NoteTemplate) Stats {
	s := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	var rated int
	var sum float64
	best := -1
	for _, t := range items {
		s.Total++
		s.ByStatus[t.Status]++
		s.TotalUses += t.UseCount
		if t.Effectiveness.TotalCount > 0 {
			rated++
			sum += t.Effectiveness.Rate()
		}
		if t.UseCount > best || (t.UseCount == best && t.ID < s.MostUsed) {
			best, s.MostUsed = t.UseCount, t.ID
		}
	}
	if best <= 0 {
		s.MostUsed = ""
	}
	if rated > 0 {
		s.AverageEffectiveness = sum / float64(rated)
	}
	return s
}
