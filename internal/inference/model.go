// Package inference evaluates LightGBM binary classifiers and explains
// their predictions with TreeSHAP.
package inference

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Model is a parsed LightGBM text model (Booster.save_model output).
type Model struct {
	Version       string
	Objective     string
	FeatureNames  []string
	NumFeatures   int
	AverageOutput bool
	Trees         []*Tree

	sigmoid float64
}

// LoadModel reads a LightGBM text model from path.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseModel(f)
}

// ParseModel reads a LightGBM text model. Only single-output binary
// objectives are accepted.
func ParseModel(r io.Reader) (*Model, error) {
	sc := bufio.NewScanner(r)
	// feature_infos and tree arrays can be long lines.
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)

	header := map[string]string{}
	var blocks []map[string]string
	var current map[string]string

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "end of trees" {
			break
		}
		if strings.HasPrefix(line, "Tree=") {
			current = map[string]string{}
			blocks = append(blocks, current)
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			// bare flags such as "average_output"
			key, value = line, ""
		}
		if current != nil {
			current[key] = value
		} else {
			header[key] = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	m, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}

	m.Trees = make([]*Tree, 0, len(blocks))
	for i, block := range blocks {
		t, err := parseTree(block)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if err := t.validate(m.NumFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		m.Trees = append(m.Trees, t)
	}

	return m, nil
}

func parseHeader(h map[string]string) (*Model, error) {
	m := &Model{Version: h["version"]}

	if v, ok := h["num_class"]; ok && strings.TrimSpace(v) != "1" {
		return nil, fmt.Errorf("num_class=%s: only binary models are supported", v)
	}
	if v, ok := h["num_tree_per_iteration"]; ok && strings.TrimSpace(v) != "1" {
		return nil, fmt.Errorf("num_tree_per_iteration=%s: only binary models are supported", v)
	}

	maxIdx, err := strconv.Atoi(strings.TrimSpace(h["max_feature_idx"]))
	if err != nil {
		return nil, fmt.Errorf("invalid max_feature_idx %q", h["max_feature_idx"])
	}
	m.NumFeatures = maxIdx + 1

	m.FeatureNames = strings.Fields(h["feature_names"])
	if len(m.FeatureNames) != m.NumFeatures {
		return nil, fmt.Errorf("feature_names lists %d names, max_feature_idx implies %d", len(m.FeatureNames), m.NumFeatures)
	}

	m.Objective = strings.TrimSpace(h["objective"])
	m.sigmoid, err = parseObjective(m.Objective)
	if err != nil {
		return nil, err
	}

	_, m.AverageOutput = h["average_output"]
	return m, nil
}

// parseObjective returns the sigmoid coefficient of a binary objective,
// e.g. "binary sigmoid:1".
func parseObjective(objective string) (float64, error) {
	parts := strings.Fields(objective)
	if len(parts) == 0 {
		return 0, fmt.Errorf("model has no objective")
	}

	switch parts[0] {
	case "binary":
		sigmoid := 1.0
		for _, p := range parts[1:] {
			if v, ok := strings.CutPrefix(p, "sigmoid:"); ok {
				s, err := strconv.ParseFloat(v, 64)
				if err != nil || s <= 0 {
					return 0, fmt.Errorf("invalid sigmoid in objective %q", objective)
				}
				sigmoid = s
			}
		}
		return sigmoid, nil
	case "cross_entropy", "xentropy":
		return 1, nil
	default:
		return 0, fmt.Errorf("objective %q is not a binary classifier", parts[0])
	}
}

func parseTree(block map[string]string) (*Tree, error) {
	numLeaves, err := strconv.Atoi(strings.TrimSpace(block["num_leaves"]))
	if err != nil {
		return nil, fmt.Errorf("invalid num_leaves %q", block["num_leaves"])
	}

	t := &Tree{NumLeaves: numLeaves}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	t.LeafValue, err = parseFloats(block, "leaf_value")
	collect(err)
	if numLeaves > 1 {
		t.SplitFeature, err = parseInts(block, "split_feature")
		collect(err)
		t.Threshold, err = parseFloats(block, "threshold")
		collect(err)
		var dts []int
		dts, err = parseInts(block, "decision_type")
		collect(err)
		t.DecisionType = make([]uint8, len(dts))
		for i, d := range dts {
			t.DecisionType[i] = uint8(d)
		}
		t.LeftChild, err = parseInts(block, "left_child")
		collect(err)
		t.RightChild, err = parseInts(block, "right_child")
		collect(err)
		t.LeafCount, err = parseFloats(block, "leaf_count")
		collect(err)
		t.InternalCount, err = parseFloats(block, "internal_count")
		collect(err)

		if numCat, _ := strconv.Atoi(strings.TrimSpace(block["num_cat"])); numCat > 0 {
			t.CatBoundaries, err = parseInts(block, "cat_boundaries")
			collect(err)
			var cats []int
			cats, err = parseInts(block, "cat_threshold")
			collect(err)
			t.CatThreshold = make([]uint32, len(cats))
			for i, c := range cats {
				t.CatThreshold[i] = uint32(c)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}
	return t, nil
}

func parseFloats(block map[string]string, key string) ([]float64, error) {
	raw, ok := block[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	fields := strings.Fields(raw)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(block map[string]string, key string) ([]int, error) {
	raw, ok := block[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	fields := strings.Fields(raw)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out[i] = int(v)
	}
	return out, nil
}

// Margin returns the raw score of x, which must be in model feature order.
func (m *Model) Margin(x []float64) float64 {
	var sum float64
	for _, t := range m.Trees {
		sum += t.Predict(x)
	}
	if m.AverageOutput {
		sum /= float64(len(m.Trees))
	}
	return sum
}

// Probability maps a raw margin to the positive-class probability.
func (m *Model) Probability(margin float64) float64 {
	return 1 / (1 + math.Exp(-m.sigmoid*margin))
}

// Contributions returns the TreeSHAP value of every feature for x and the
// expected margin. They sum to Margin(x).
func (m *Model) Contributions(x []float64) ([]float64, float64) {
	phi := make([]float64, m.NumFeatures)
	var expected float64
	for _, t := range m.Trees {
		t.shap(x, phi)
		expected += t.expectedValue()
	}
	if m.AverageOutput {
		n := float64(len(m.Trees))
		for i := range phi {
			phi[i] /= n
		}
		expected /= n
	}
	return phi, expected
}

// HasDefaultFeatureNames reports whether the model was trained without
// column names, in which case LightGBM writes Column_0, Column_1, ...
func (m *Model) HasDefaultFeatureNames() bool {
	for i, name := range m.FeatureNames {
		if name != "Column_"+strconv.Itoa(i) {
			return false
		}
	}
	return true
}
