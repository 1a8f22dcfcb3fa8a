// Package telegram implements the message sink port against the
// Telegram Bot API.
package telegram

import (
	"fmt"
	"strings"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

const (
	// Telegram rejects messages over 4096 characters.
	maxMessageLen = 4096

	trendCharLimit = 200
	maxBullets     = 3
)

// FormatInsight renders an insight as a Markdown message. Trend text is
// truncated and bullet lists are capped so a single insight always fits
// in one message.
func FormatInsight(ins *model.Insight) string {
	lines := []string{
		fmt.Sprintf("📈 *Daily Insight: %s*", ins.Symbol),
		fmt.Sprintf("_Confidence: %s_", strings.ToUpper(string(ins.Confidence))),
		"",
		"*Summary:*",
		ins.Summary,
		"",
	}

	if ins.TrendAnalysis != "" {
		trend := ins.TrendAnalysis
		if len(trend) > trendCharLimit {
			trend = trend[:trendCharLimit-3] + "..."
		}
		lines = append(lines, "*Trend:*", trend, "")
	}

	lines = appendBullets(lines, "*Risks:*", ins.RiskFactors)
	lines = appendBullets(lines, "*Opportunities:*", ins.Opportunities)

	lines = append(lines, fmt.Sprintf("_Analysis date: %s_", model.FormatTradingDate(ins.TradingDate)))

	msg := strings.Join(lines, "\n")
	if len(msg) > maxMessageLen {
		msg = strings.Join(lines[:len(lines)/2], "\n") + "\n\n_Message truncated._"
	}
	return msg
}

// FormatInsights renders a recipient's daily batch as one message. Over
// the message limit it degrades to a compact per-symbol digest.
func FormatInsights(insights []*model.Insight) string {
	if len(insights) == 1 {
		return FormatInsight(insights[0])
	}

	parts := make([]string, len(insights))
	for i, ins := range insights {
		parts[i] = FormatInsight(ins)
	}
	msg := strings.Join(parts, "\n\n━━━━━━━━━━\n\n")
	if len(msg) <= maxMessageLen {
		return msg
	}

	lines := []string{"📈 *Daily Insights*", ""}
	for _, ins := range insights {
		summary := ins.Summary
		if len(summary) > trendCharLimit {
			summary = summary[:trendCharLimit-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("*%s*: %s", ins.Symbol, summary), "")
	}
	if len(insights) > 0 {
		lines = append(lines, fmt.Sprintf("_Analysis date: %s_",
			model.FormatTradingDate(insights[0].TradingDate)))
	}
	msg = strings.Join(lines, "\n")
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen-24] + "\n\n_Message truncated._"
	}
	return msg
}

func appendBullets(lines []string, header string, items []string) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, header)
	for i, item := range items {
		if i == maxBullets {
			break
		}
		lines = append(lines, "• "+item)
	}
	return append(lines, "")
}
