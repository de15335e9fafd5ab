package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/grid-replanner/model"
)

// HeuristicKind selects the distance metric behind a Heuristic.
type HeuristicKind int

const (
	HeuristicManhattan HeuristicKind = iota
	HeuristicEuclidean
)

// DefaultHeuristicWeight keeps Manhattan admissible for costs 5 and 7.
const DefaultHeuristicWeight = 3.0

func (k HeuristicKind) String() string {
	switch k {
	case HeuristicManhattan:
		return "manhattan"
	case HeuristicEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("HeuristicKind(%d)", int(k))
	}
}

// ParseHeuristicKind accepts "manhattan" or "euclidean", case-insensitively.
func ParseHeuristicKind(s string) (HeuristicKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manhattan", "":
		return HeuristicManhattan, nil
	case "euclidean":
		return HeuristicEuclidean, nil
	default:
		return 0, fmt.Errorf("unknown heuristic %q", s)
	}
}

// Heuristic is a weighted distance estimate. A weight above
// min step cost / step distance (3.5 for Manhattan) overestimates and gives
// up optimality in exchange for fewer expansions.
type Heuristic struct {
	Kind   HeuristicKind
	Weight float64
}

func ManhattanHeuristic(weight float64) Heuristic {
	return Heuristic{Kind: HeuristicManhattan, Weight: weight}
}

func EuclideanHeuristic(weight float64) Heuristic {
	return Heuristic{Kind: HeuristicEuclidean, Weight: weight}
}

// DefaultHeuristic is Manhattan with DefaultHeuristicWeight.
func DefaultHeuristic() Heuristic {
	return ManhattanHeuristic(DefaultHeuristicWeight)
}

// Estimate returns the weighted distance between from and to.
func (h Heuristic) Estimate(from, to model.Position) float64 {
	dr := float64(to.Row - from.Row)
	dc := float64(to.Col - from.Col)
	switch h.Kind {
	case HeuristicEuclidean:
		return math.Sqrt(dr*dr+dc*dc) * h.Weight
	default:
		return (math.Abs(dr) + math.Abs(dc)) * h.Weight
	}
}

func (h Heuristic) String() string {
	return fmt.Sprintf("%s(w=%g)", h.Kind, h.Weight)
}
