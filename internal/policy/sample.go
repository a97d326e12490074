package policy

import (
	"gonum.org/v1/gonum/floats"
)

// SampleCategorical picks an index from probs using a uniform draw r in
// [0, 1). The draw is scaled by the total mass so unnormalised weights work
// too. The last index is returned if rounding leaves r past every bucket.
func SampleCategorical(probs []float64, r float64) int {
	if len(probs) == 0 {
		return -1
	}

	cumulative := floats.CumSum(make([]float64, len(probs)), probs)
	target := r * cumulative[len(cumulative)-1]

	for i, c := range cumulative {
		if target < c {
			return i
		}
	}

	return len(probs) - 1
}

// ActionDict expands an action index into a control map. Every control in
// actionList starts released and the mapping for index is applied on top.
func ActionDict(index int, mappings map[int]map[string]bool, actionList []string) map[string]bool {
	action := make(map[string]bool, len(actionList))
	for _, name := range actionList {
		action[name] = false
	}

	for name, v := range mappings[index] {
		action[name] = v
	}

	return action
}
