// Package coverage decides whether retrieved rows ground a question well
// enough to answer it. The decision is a pure function of the required terms
// and the text of the rows.
package coverage

import (
	"strings"

	"github.com/WessleyAI/groundwork/engine/domain"
)

// CaveatThreshold is the coverage ratio below which an answer must hedge.
const CaveatThreshold = 0.5

// Assess compares required terms against the row haystack.
func Assess(required []string, rows []domain.Row) domain.Verdict {
	v := domain.Verdict{
		RequiredTerms: append([]string{}, required...),
		MatchedTerms:  []string{},
	}
	if len(required) == 0 {
		v.Ratio = 1
		v.Decision = domain.DecisionAnswer
		return v
	}
	hay := Haystack(rows)
	for _, term := range required {
		if t := strings.ToLower(term); t != "" && strings.Contains(hay, t) {
			v.MatchedTerms = append(v.MatchedTerms, term)
		}
	}
	v.Ratio = float64(len(v.MatchedTerms)) / float64(len(required))
	v.Decision = Decide(len(v.MatchedTerms), v.Ratio)
	return v
}

// Decide maps a match count and ratio to a decision.
func Decide(matched int, ratio float64) domain.Decision {
	switch {
	case matched == 0:
		return domain.DecisionRefuse
	case ratio < CaveatThreshold:
		return domain.DecisionAnswerWithCaveats
	default:
		return domain.DecisionAnswer
	}
}

// Refuse is the verdict for a query with nothing to search for.
func Refuse() domain.Verdict {
	return domain.Verdict{
		RequiredTerms: []string{},
		MatchedTerms:  []string{},
		Ratio:         0,
		Decision:      domain.DecisionRefuse,
	}
}

// Haystack concatenates row names and summaries with nested evidence titles,
// snippets and brands, lowercased.
func Haystack(rows []domain.Row) string {
	var b strings.Builder
	write := func(s string) {
		if s != "" {
			b.WriteString(strings.ToLower(s))
			b.WriteByte('\n')
		}
	}
	for _, r := range rows {
		write(r.Name)
		write(r.Summary)
		for _, br := range r.Brands {
			write(br)
		}
		for _, e := range r.Evidence {
			write(e.Title)
			write(e.Snippet)
			for _, br := range e.Brands {
				write(br)
			}
		}
	}
	return b.String()
}
