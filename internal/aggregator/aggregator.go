// Package aggregator folds the classified flows of one capture window into
// counts, a label histogram and per-feature summary statistics.
package aggregator

import (
	"iter"
	"math"
	"time"

	"Go2NetMon/internal/features"
	"Go2NetMon/internal/model"
)

// Classifier assigns a verdict to one row. When Enabled is false every flow
// is counted benign and no histogram entries are produced.
type Classifier interface {
	Classify(row features.Row) model.Verdict
	Enabled() bool
}

// Result is the outcome of aggregating one window's rows.
type Result struct {
	TotalFlows        int64
	TotalPackets      int64
	TotalPayloadBytes int64
	BenignFlows       int64
	AttackFlows       int64
	UnknownFlows      int64
	LabelCounts       map[string]int64
	FeatureStats      map[string]model.FeatureStats
}

type series struct {
	n        int
	sum      float64
	min, max float64
}

func (s *series) add(v float64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.sum += v
	s.n++
}

// Aggregate makes a single pass over rows. Output depends only on the rows
// and the classifier's verdicts, so re-running it on the same input yields
// an identical Result.
func Aggregate(rows iter.Seq[features.Row], c Classifier) Result {
	res := Result{
		LabelCounts:  make(map[string]int64),
		FeatureStats: make(map[string]model.FeatureStats),
	}
	classify := c != nil && c.Enabled()
	stats := make(map[string]*series, len(features.Canonical))
	var packets, payload float64

	for row := range rows {
		res.TotalFlows++
		packets += row.ValueOrZero(features.PacketsCount)
		payload += row.ValueOrZero(features.TotalPayloadBytes)

		for _, name := range features.Canonical {
			v, ok := row.Value(name)
			if !ok {
				continue
			}
			s := stats[name]
			if s == nil {
				s = &series{}
				stats[name] = s
			}
			s.add(v)
		}

		if !classify {
			res.BenignFlows++
			continue
		}
		verdict := c.Classify(row)
		switch verdict.Kind {
		case model.VerdictBenign:
			res.BenignFlows++
		case model.VerdictUnknown:
			res.UnknownFlows++
			res.LabelCounts[model.LabelUnknown]++
		default:
			res.AttackFlows++
			res.LabelCounts[verdict.Label]++
		}
	}

	res.TotalPackets = int64(math.Round(packets))
	res.TotalPayloadBytes = int64(math.Round(payload))
	for name, s := range stats {
		res.FeatureStats[name] = model.FeatureStats{
			Mean: s.sum / float64(s.n),
			Min:  s.min,
			Max:  s.max,
		}
	}
	return res
}

// Window builds the window record for id from the result.
func (r Result) Window(id string, start, end time.Time) *model.Window {
	return &model.Window{
		ID:                id,
		StartTime:         start.UTC(),
		EndTime:           end.UTC(),
		TotalFlows:        r.TotalFlows,
		TotalPackets:      r.TotalPackets,
		TotalPayloadBytes: r.TotalPayloadBytes,
		BenignFlows:       r.BenignFlows,
		AttackFlows:       r.AttackFlows,
		UnknownFlows:      r.UnknownFlows,
		LabelCounts:       r.LabelCounts,
		FeatureStats:      r.FeatureStats,
	}
}
