package insight

import (
	"regexp"
	"strings"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// Section header patterns. Models occasionally number the headers or drop
// the bold markers, so the patterns tolerate both.
var (
	summaryRe       = sectionPattern("Summary")
	trendRe         = sectionPattern("Trend Analysis")
	riskRe          = sectionPattern("Risk Factors")
	opportunitiesRe = sectionPattern("Opportunities")

	uncertaintyRe = regexp.MustCompile(`(?i)\b(uncertain|unclear|difficult to predict|hard to say|volatile|unpredictable|insufficient data|limited data)\b`)
)

func sectionPattern(name string) *regexp.Regexp {
	// Matches "**Name**:", "2. **Name**", "Name:" at line start, capturing
	// everything until the next header or end of text.
	return regexp.MustCompile(
		`(?is)(?:^|\n)\s*(?:\d+\.\s*)?\*{0,2}` + regexp.QuoteMeta(name) + `\*{0,2}\s*:?\s*\n?(.*?)(?:\n\s*(?:\d+\.\s*)?\*{1,2}[A-Z]|\z)`,
	)
}

// Parse extracts the structured sections from a model response and scores
// confidence from the quality of the underlying snapshot and the hedging in
// the text. An empty response yields a permanent generation failure upstream;
// here it degrades to the raw text as summary so nothing is silently lost.
func Parse(raw string, snap model.Snapshot) model.GeneratedInsight {
	raw = strings.TrimSpace(raw)

	out := model.GeneratedInsight{
		Summary:       extract(summaryRe, raw),
		TrendAnalysis: extract(trendRe, raw),
		RiskFactors:   extractBullets(riskRe, raw),
		Opportunities: extractBullets(opportunitiesRe, raw),
	}

	if out.Summary == "" {
		out.Summary = truncate(raw, 500)
	}
	out.Confidence = scoreConfidence(raw, snap)
	return out
}

func extract(re *regexp.Regexp, raw string) string {
	m := re.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractBullets pulls "- " or "* " items from a section body. A body with
// no bullet markers is returned as a single item so prose answers survive.
func extractBullets(re *regexp.Regexp, raw string) []string {
	body := extract(re, raw)
	if body == "" {
		return nil
	}

	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "- "); ok {
			items = append(items, strings.TrimSpace(after))
			continue
		}
		if after, ok := strings.CutPrefix(line, "* "); ok {
			items = append(items, strings.TrimSpace(after))
		}
	}
	if len(items) == 0 {
		return []string{body}
	}
	return items
}

// scoreConfidence derives a coarse confidence level from data richness and
// hedging language. Starts at 5; rich history raises it, thin history and
// missing fundamentals lower it, hedged language lowers it.
func scoreConfidence(raw string, snap model.Snapshot) model.Confidence {
	score := 5

	switch {
	case len(snap.History) > 20:
		score += 2
	case len(snap.History) < 5:
		score -= 2
	}

	if len(snap.Fundamentals) > 3 {
		score++
	} else if len(snap.Fundamentals) == 0 {
		score--
	}

	if uncertaintyRe.MatchString(raw) {
		score--
	}

	switch {
	case score >= 7:
		return model.ConfidenceHigh
	case score >= 4:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
