package graph

// Load is the derived low/medium/high label summarizing how much a
// consuming UI has to render for one decision. It is computed on read
// and never stored.
type Load string

const (
	LoadLow    Load = "low"
	LoadMedium Load = "medium"
	LoadHigh   Load = "high"
)

// Rank orders loads: low < medium < high.
func (l Load) Rank() int {
	switch l {
	case LoadLow:
		return 0
	case LoadMedium:
		return 1
	case LoadHigh:
		return 2
	}
	return 1
}

// LoadThresholds parameterizes the classifier. Only the "high" cutoffs
// are tunable; the low band is fixed by contract.
type LoadThresholds struct {
	HighNeighbors     int // total neighbors at or above which load is high
	HighTypes         int // distinct relation types at or above which load is high
	HighRationaleRune int // rationale length in runes above which load is high
}

// DefaultLoadThresholds matches the documented classifier contract.
func DefaultLoadThresholds() LoadThresholds {
	return LoadThresholds{
		HighNeighbors:     6,
		HighTypes:         3,
		HighRationaleRune: 1200,
	}
}

// ClassifyLoad is a pure function of neighborhood shape. Increasing any
// input while holding the others fixed never decreases the result.
func ClassifyLoad(totalNeighbors, distinctTypes, rationaleLen int, t LoadThresholds) Load {
	if totalNeighbors >= t.HighNeighbors || distinctTypes >= t.HighTypes || rationaleLen > t.HighRationaleRune {
		return LoadHigh
	}
	if totalNeighbors <= 2 && distinctTypes <= 1 {
		return LoadLow
	}
	return LoadMedium
}
