// Package features reads the per-flow feature files produced by the
// extraction tool and resolves canonical feature names through the column
// aliases different tool versions emit.
package features

import (
	"math"
	"strconv"
	"strings"
)

// Canonical feature names, in the order the classifier expects them.
const (
	Duration          = "duration"
	PacketsCount      = "packets_count"
	TotalPayloadBytes = "total_payload_bytes"
	BytesRate         = "bytes_rate"
	PacketsRate       = "packets_rate"
	ActiveMean        = "active_mean"
	IdleMean          = "idle_mean"
	FwdPacketsIATMean = "fwd_packets_iat_mean"
	BwdPacketsIATMean = "bwd_packets_iat_mean"
	SegmentSizeMean   = "segment_size_mean"
	SubflowFwdPackets = "subflow_fwd_packets"
	SubflowBwdPackets = "subflow_bwd_packets"
	SubflowFwdBytes   = "subflow_fwd_bytes"
	SubflowBwdBytes   = "subflow_bwd_bytes"
	HandshakeDuration = "handshake_duration"
	PacketsIATMean    = "packets_iat_mean"
	PacketsIATStd     = "packets_iat_std"
	FwdBytesRate      = "fwd_bytes_rate"
	BwdBytesRate      = "bwd_bytes_rate"
	DownUpRate        = "down_up_rate"
)

// Canonical lists every feature in model-vector order.
var Canonical = []string{
	Duration,
	PacketsCount,
	TotalPayloadBytes,
	BytesRate,
	PacketsRate,
	ActiveMean,
	IdleMean,
	FwdPacketsIATMean,
	BwdPacketsIATMean,
	SegmentSizeMean,
	SubflowFwdPackets,
	SubflowBwdPackets,
	SubflowFwdBytes,
	SubflowBwdBytes,
	HandshakeDuration,
	PacketsIATMean,
	PacketsIATStd,
	FwdBytesRate,
	BwdBytesRate,
	DownUpRate,
}

// Aliases maps each canonical feature to the column names accepted for it,
// tried in order.
var Aliases = map[string][]string{
	Duration:          {"duration", "flow_duration"},
	PacketsCount:      {"packets_count", "total_packets"},
	TotalPayloadBytes: {"total_payload_bytes", "payload_bytes"},
	BytesRate:         {"bytes_rate", "flow_bytes_s"},
	PacketsRate:       {"packets_rate", "flow_packets_s"},
	ActiveMean:        {"active_mean"},
	IdleMean:          {"idle_mean"},
	FwdPacketsIATMean: {"fwd_packets_iAT_mean", "fwd_packets_IAT_mean", "fwd_packets_iat_mean"},
	BwdPacketsIATMean: {"bwd_packets_iAT_mean", "bwd_packets_IAT_mean", "bwd_packets_iat_mean"},
	SegmentSizeMean:   {"segment_size_mean", "avg_segment_size"},
	SubflowFwdPackets: {"subflow_fwd_packets"},
	SubflowBwdPackets: {"subflow_bwd_packets"},
	SubflowFwdBytes:   {"subflow_fwd_bytes"},
	SubflowBwdBytes:   {"subflow_bwd_bytes"},
	HandshakeDuration: {"handshake_duration"},
	PacketsIATMean:    {"packets_IAT_mean", "packets_iAT_mean", "packets_iat_mean"},
	PacketsIATStd:     {"packets_IAT_std", "packets_iAT_std", "packets_iat_std"},
	FwdBytesRate:      {"fwd_bytes_rate"},
	BwdBytesRate:      {"bwd_bytes_rate"},
	DownUpRate:        {"down_up_rate", "down_up_ratio"},
}

// Row is one flow from a feature file, keyed by column name.
type Row map[string]string

// Value resolves a canonical feature through its aliases and returns the
// first present, non-empty, parsable value. ok is false when the feature is
// missing for this row.
func (r Row) Value(feature string) (value float64, ok bool) {
	aliases, known := Aliases[feature]
	if !known {
		aliases = []string{feature}
	}
	for _, col := range aliases {
		raw, present := r[col]
		if !present {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}

// ValueOrZero returns the feature value, or 0 if it is missing.
func (r Row) ValueOrZero(feature string) float64 {
	v, _ := r.Value(feature)
	return v
}

// Vector returns the canonical features in model order with missing values as 0.
func (r Row) Vector() []float64 {
	vec := make([]float64, len(Canonical))
	for i, name := range Canonical {
		vec[i] = r.ValueOrZero(name)
	}
	return vec
}
