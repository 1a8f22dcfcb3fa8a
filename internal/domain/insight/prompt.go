// Package insight holds the prompt construction and response parsing
// logic for AI-generated stock analyses. It is pure domain logic with no
// provider dependencies; the llm adapters feed it a snapshot and hand its
// output back as a structured insight.
package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// SystemPrompt frames the model as a financial analyst. Kept stable so
// responses parse predictably.
const SystemPrompt = `You are an expert financial analyst with deep knowledge of stock markets,
technical analysis, and fundamental analysis. Your role is to provide clear, actionable insights
based on stock data while being transparent about risks and opportunities.

Guidelines:
- Provide concise, data-driven analysis
- Clearly separate facts from interpretation
- Highlight both risks and opportunities
- Use bullet points for clarity
- Be honest about uncertainties`

// historyWindow bounds how many recent closes are included in the prompt.
const historyWindow = 5

// BuildPrompt renders the per-symbol analysis request from a market snapshot.
// The response format it asks for is what Parse expects back.
func BuildPrompt(snap model.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the following stock data and provide investment insights:\n\n")
	fmt.Fprintf(&b, "**Stock Symbol**: %s\n", snap.Symbol)
	fmt.Fprintf(&b, "**Current Price**: $%s\n", snap.Price.StringFixed(2))
	fmt.Fprintf(&b, "**Price Change**: %s%%\n", formatSigned(snap.ChangePercent))
	fmt.Fprintf(&b, "**Volume**: %s\n\n", formatVolume(snap.Volume))

	b.WriteString("**Recent Price History**:\n")
	b.WriteString(formatHistory(snap.History))
	b.WriteString("\n\n**Fundamentals**:\n")
	b.WriteString(formatFundamentals(snap.Fundamentals))

	b.WriteString(`

Please provide:

1. **Summary**: A brief 2-3 sentence overview of the stock's current status

2. **Trend Analysis**: Analyze the price movement and volume patterns. What do they indicate?

3. **Risk Factors**: List 2-4 specific risks or concerns (use bullet points starting with "- ")

4. **Opportunities**: List 2-4 potential opportunities or positive catalysts (use bullet points starting with "- ")

Format your response with clear section headers using **bold** markdown.
`)

	return b.String()
}

func formatHistory(history []model.PricePoint) string {
	if len(history) == 0 {
		return "  No historical data available"
	}

	points := history
	if len(points) > historyWindow {
		points = points[len(points)-historyWindow:]
	}

	lines := make([]string, 0, len(points))
	for _, p := range points {
		line := fmt.Sprintf("  %s: $%s", p.Date.Format("2006-01-02"), p.Close.StringFixed(2))
		if p.Volume > 0 {
			line += fmt.Sprintf(" (Volume: %s)", formatVolume(p.Volume))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatFundamentals(fundamentals map[string]string) string {
	if len(fundamentals) == 0 {
		return "  No fundamental data available"
	}

	keys := make([]string, 0, len(fundamentals))
	for k := range fundamentals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, fundamentals[k]))
	}
	return strings.Join(lines, "\n")
}

func formatSigned(d interface{ StringFixed(int32) string }) string {
	s := d.StringFixed(2)
	if !strings.HasPrefix(s, "-") {
		return "+" + s
	}
	return s
}

// formatVolume renders a share count with thousands separators.
func formatVolume(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}
