package inference

import (
	"fmt"
	"math"
)

// decision_type bit layout of LightGBM.
const (
	categoricalMask = 1
	defaultLeftMask = 2

	missingNone = 0
	missingZero = 1
	missingNaN  = 2

	zeroThreshold = 1e-35
)

// Tree is one regression tree of the ensemble. Child indices >= 0 are
// internal nodes, negative ones encode leaf ^index.
type Tree struct {
	NumLeaves     int
	SplitFeature  []int
	Threshold     []float64
	DecisionType  []uint8
	LeftChild     []int
	RightChild    []int
	LeafValue     []float64
	LeafCount     []float64
	InternalCount []float64
	CatBoundaries []int
	CatThreshold  []uint32

	maxDepth int
}

// Predict returns the leaf value x falls into.
func (t *Tree) Predict(x []float64) float64 {
	if t.NumLeaves <= 1 {
		return t.LeafValue[0]
	}
	node := 0
	for node >= 0 {
		node = t.decision(x[t.SplitFeature[node]], node)
	}
	return t.LeafValue[^node]
}

func (t *Tree) decision(fval float64, node int) int {
	if t.DecisionType[node]&categoricalMask != 0 {
		return t.categoricalDecision(fval, node)
	}
	return t.numericalDecision(fval, node)
}

func (t *Tree) numericalDecision(fval float64, node int) int {
	dt := t.DecisionType[node]
	missing := (dt >> 2) & 3

	if math.IsNaN(fval) && missing != missingNaN {
		fval = 0
	}
	if (missing == missingZero && isZero(fval)) || (missing == missingNaN && math.IsNaN(fval)) {
		if dt&defaultLeftMask != 0 {
			return t.LeftChild[node]
		}
		return t.RightChild[node]
	}
	if fval <= t.Threshold[node] {
		return t.LeftChild[node]
	}
	return t.RightChild[node]
}

func (t *Tree) categoricalDecision(fval float64, node int) int {
	// truncation comes before the sign check: -0.5 is category 0
	if math.IsNaN(fval) || fval >= math.MaxInt32 {
		return t.RightChild[node]
	}
	cat := int(fval)
	if cat < 0 {
		return t.RightChild[node]
	}

	idx := int(t.Threshold[node])
	lo, hi := t.CatBoundaries[idx], t.CatBoundaries[idx+1]
	word := cat / 32
	if word >= hi-lo {
		return t.RightChild[node]
	}
	if (t.CatThreshold[lo+word]>>(uint(cat)%32))&1 == 1 {
		return t.LeftChild[node]
	}
	return t.RightChild[node]
}

func isZero(v float64) bool {
	return v >= -zeroThreshold && v <= zeroThreshold
}

// dataCount is the training cover of a node, used as the SHAP weight.
func (t *Tree) dataCount(node int) float64 {
	if node >= 0 {
		return t.InternalCount[node]
	}
	return t.LeafCount[^node]
}

// expectedValue is the cover-weighted mean leaf output.
func (t *Tree) expectedValue() float64 {
	if t.NumLeaves <= 1 {
		return t.LeafValue[0]
	}
	total := t.InternalCount[0]
	var ev float64
	for i := 0; i < t.NumLeaves; i++ {
		ev += t.LeafCount[i] / total * t.LeafValue[i]
	}
	return ev
}

// validate checks array shapes and child links so evaluation never
// indexes out of range.
func (t *Tree) validate(numFeatures int) error {
	if t.NumLeaves < 1 {
		return fmt.Errorf("num_leaves must be positive, got %d", t.NumLeaves)
	}
	if len(t.LeafValue) != t.NumLeaves {
		return fmt.Errorf("leaf_value has %d entries, want %d", len(t.LeafValue), t.NumLeaves)
	}
	if t.NumLeaves == 1 {
		return nil
	}

	inner := t.NumLeaves - 1
	for name, n := range map[string]int{
		"split_feature":  len(t.SplitFeature),
		"threshold":      len(t.Threshold),
		"decision_type":  len(t.DecisionType),
		"left_child":     len(t.LeftChild),
		"right_child":    len(t.RightChild),
		"internal_count": len(t.InternalCount),
	} {
		if n != inner {
			return fmt.Errorf("%s has %d entries, want %d", name, n, inner)
		}
	}
	if len(t.LeafCount) != t.NumLeaves {
		return fmt.Errorf("leaf_count has %d entries, want %d", len(t.LeafCount), t.NumLeaves)
	}
	if t.InternalCount[0] <= 0 {
		return fmt.Errorf("root internal_count must be positive")
	}

	for node := 0; node < inner; node++ {
		if f := t.SplitFeature[node]; f < 0 || f >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d, model has %d", node, f, numFeatures)
		}
		for _, child := range []int{t.LeftChild[node], t.RightChild[node]} {
			if child >= inner || ^child >= t.NumLeaves {
				return fmt.Errorf("node %d has out of range child %d", node, child)
			}
			// LightGBM numbers internal nodes in split order.
			if child >= 0 && child <= node {
				return fmt.Errorf("node %d links back to node %d", node, child)
			}
		}
		if t.DecisionType[node]&categoricalMask != 0 {
			idx := int(t.Threshold[node])
			if idx < 0 || idx+1 >= len(t.CatBoundaries) {
				return fmt.Errorf("node %d references missing category set %d", node, idx)
			}
			if t.CatBoundaries[idx+1] > len(t.CatThreshold) || t.CatBoundaries[idx] > t.CatBoundaries[idx+1] {
				return fmt.Errorf("node %d has malformed category bounds", node)
			}
		}
	}

	t.maxDepth = t.depth(0)
	return nil
}

func (t *Tree) depth(node int) int {
	if node < 0 {
		return 0
	}
	l, r := t.depth(t.LeftChild[node]), t.depth(t.RightChild[node])
	if l > r {
		return l + 1
	}
	return r + 1
}
