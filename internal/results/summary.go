package results

import "sort"

// RoundSummary condenses the rows of one round. Agreed is true when every
// successful robot recorded the same decision.
type RoundSummary struct {
	Round     string
	Robots    int
	Succeeded int
	Failed    int
	Decisions map[string]int
	Failures  map[string]int
	Agreed    bool
}

// Summarize groups records by round. Rows read from the CSV log carry no
// round and end up in a single summary with an empty Round.
func Summarize(records []Record) []RoundSummary {
	byRound := make(map[string]*RoundSummary)
	var order []string
	for _, rec := range records {
		s, ok := byRound[rec.Round]
		if !ok {
			s = &RoundSummary{
				Round:     rec.Round,
				Decisions: make(map[string]int),
				Failures:  make(map[string]int),
			}
			byRound[rec.Round] = s
			order = append(order, rec.Round)
		}
		s.Robots++
		if rec.Failed() {
			s.Failed++
			s.Failures[rec.Status]++
			continue
		}
		s.Succeeded++
		s.Decisions[rec.Decision]++
	}

	sort.Strings(order)
	out := make([]RoundSummary, 0, len(order))
	for _, round := range order {
		s := byRound[round]
		s.Agreed = s.Succeeded > 0 && len(s.Decisions) == 1
		out = append(out, *s)
	}
	return out
}
