// Package narrative renders window metrics into a short operator-facing
// summary, optionally rewritten by a text-generation backend.
package narrative

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"Go2NetMon/internal/model"
)

func flowVolume(flows int64) string {
	switch {
	case flows < 20:
		return "very low flow volume (only a handful of connections)"
	case flows < 100:
		return "low flow volume (a few dozen connections)"
	case flows < 500:
		return "moderate flow volume (hundreds of connections)"
	default:
		return "high flow volume (many concurrent connections)"
	}
}

func payloadVolume(bytes int64) string {
	switch {
	case bytes < 1e5:
		return "small overall payload size"
	case bytes < 1e6:
		return "light to moderate payload volume"
	case bytes < 1e7:
		return "substantial payload volume"
	default:
		return "very heavy payload volume"
	}
}

func packetRate(pps float64) string {
	switch {
	case pps < 10:
		return "low packet rate"
	case pps < 100:
		return "moderate packet rate"
	case pps < 1000:
		return "elevated packet rate"
	default:
		return "very high packet rate that may indicate bursts"
	}
}

type labelCount struct {
	label string
	count int64
}

// topAttackLabels returns up to n attack labels by descending count, ties
// broken by name so the output is stable.
func topAttackLabels(counts map[string]int64, n int) []labelCount {
	var out []labelCount
	for label, count := range counts {
		if label == model.LabelUnknown {
			continue
		}
		out = append(out, labelCount{label, count})
	}
	slices.SortFunc(out, func(a, b labelCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return strings.Compare(a.label, b.label)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Deterministic renders the rule-based summary of w. It only reads metrics
// and cannot fail.
func Deterministic(w *model.Window) string {
	pps := float64(w.TotalPackets) / w.Duration().Seconds()

	var mix string
	if w.TotalFlows > 0 {
		mix = fmt.Sprintf("In this window, the detection model classified approximately "+
			"%d flows (%.1f%%) as benign, %d flows (%.1f%%) as attack, and "+
			"%d flows (%.1f%%) as unknown / needs investigation.",
			w.BenignFlows, w.Percent(w.BenignFlows),
			w.AttackFlows, w.Percent(w.AttackFlows),
			w.UnknownFlows, w.Percent(w.UnknownFlows))
	} else {
		mix = "No flows were exported in this window."
	}

	labels := "No specific attack class stands out."
	if top := topAttackLabels(w.LabelCounts, 3); len(top) > 0 {
		parts := make([]string, len(top))
		for i, lc := range top {
			parts[i] = fmt.Sprintf("%s: %d", lc.label, lc.count)
		}
		labels = "The most frequent attack-labelled classes: " + strings.Join(parts, ", ") + "."
	}

	lines := []string{
		fmt.Sprintf("- Window: %s to %s (UTC).", w.StartTime.UTC().Format(time.RFC3339), w.EndTime.UTC().Format(time.RFC3339)),
		fmt.Sprintf("- Traffic volume: %s with %s and a %s.", flowVolume(w.TotalFlows), payloadVolume(w.TotalPayloadBytes), packetRate(pps)),
		"- ML classifier: " + mix,
		"- ML label mix: " + labels,
	}
	return strings.Join(lines, "\n")
}

const promptTemplate = `You are a senior network security engineer writing notes for an internal monitoring dashboard.
Below is a draft summary describing one %s window of network traffic:

%s

Rewrite this as 3-5 concise bullet points in a professional tone.
IMPORTANT FORMAT RULES:
- Output ONLY bullet points, nothing else.
- Each bullet point MUST start with '- ' (dash + space).
- Do NOT add titles, headings, section labels, or explanations.
- Do NOT mention 'draft', 'rewrite', 'bullet points', or anything about the process.
- Do NOT wrap the answer in quotes, backticks, or code fences.
Just return the final bullet points.`

// Prompt embeds a deterministic summary in the enrichment prompt.
func Prompt(w *model.Window, summary string) string {
	return fmt.Sprintf(promptTemplate, humanDuration(w.Duration()), summary)
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d-minute", int(d/time.Minute))
	}
	return fmt.Sprintf("%d-second", int(d/time.Second))
}
