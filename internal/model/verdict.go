package model

import "strings"

// VerdictKind is the tag of a Verdict.
type VerdictKind uint8

const (
	VerdictBenign VerdictKind = iota
	VerdictUnknown
	VerdictAttack
)

const (
	// LabelBenign is the canonical label for benign traffic.
	LabelBenign = "Benign"
	// LabelUnknown is the histogram key used for low-confidence or failed classifications.
	LabelUnknown = "Unknown"
)

// Verdict is the classification outcome for one flow.
type Verdict struct {
	Kind  VerdictKind
	Label string // set only for VerdictAttack
}

func Benign() Verdict  { return Verdict{Kind: VerdictBenign} }
func Unknown() Verdict { return Verdict{Kind: VerdictUnknown} }

// Attack returns an attack verdict carrying the classifier's label verbatim.
func Attack(label string) Verdict { return Verdict{Kind: VerdictAttack, Label: label} }

// String returns the label under which the verdict is reported.
func (v Verdict) String() string {
	switch v.Kind {
	case VerdictBenign:
		return LabelBenign
	case VerdictUnknown:
		return LabelUnknown
	default:
		return v.Label
	}
}

var benignAliases = map[string]struct{}{
	"benign":     {},
	"normal":     {},
	"background": {},
}

// VerdictFromLabel folds benign aliases (case-insensitive) into Benign and
// passes everything else through as an attack label.
func VerdictFromLabel(raw string) Verdict {
	label := strings.TrimSpace(raw)
	if _, ok := benignAliases[strings.ToLower(label)]; ok {
		return Benign()
	}
	return Attack(label)
}
