package inference

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Encoders maps a column to the classes of its label encoder. The index of
// a class is the integer code the model was trained on.
type Encoders map[string][]string

type encoderFile map[string]struct {
	Classes []string `json:"classes"`
}

// LoadEncoders reads encoders.json.
func LoadEncoders(path string) (Encoders, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw encoderFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode encoders: %w", err)
	}

	out := make(Encoders, len(raw))
	for col, enc := range raw {
		if len(enc.Classes) == 0 {
			return nil, fmt.Errorf("encoder %q has no classes", col)
		}
		out[col] = enc.Classes
	}
	return out, nil
}

// Scaler holds fitted MinMax parameters for a subset of columns.
type Scaler struct {
	Columns      []string   `json:"columns"`
	DataMin      []float64  `json:"data_min"`
	DataMax      []float64  `json:"data_max"`
	FeatureRange [2]float64 `json:"feature_range"`
}

// LoadScaler reads scaler.json.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Scaler{FeatureRange: [2]float64{0, 1}}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(s.DataMin) != len(s.Columns) || len(s.DataMax) != len(s.Columns) {
		return nil, fmt.Errorf("scaler lists %d columns but %d minima and %d maxima",
			len(s.Columns), len(s.DataMin), len(s.DataMax))
	}
	if s.FeatureRange[0] >= s.FeatureRange[1] {
		return nil, fmt.Errorf("invalid feature_range %v", s.FeatureRange)
	}
	return s, nil
}

// Scale maps v of column i of the scaler into the feature range. A
// constant training column maps to the lower bound.
func (s *Scaler) Scale(i int, v float64) float64 {
	lo, hi := s.FeatureRange[0], s.FeatureRange[1]
	span := s.DataMax[i] - s.DataMin[i]
	if span == 0 {
		return lo
	}
	return lo + (v-s.DataMin[i])/span*(hi-lo)
}

// LoadReferenceColumns reads the header row of the reference CSV, which
// fixes the training column order.
func LoadReferenceColumns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadReferenceColumns(f)
}

// ReadReferenceColumns reads a CSV header. A leading empty column, which
// pandas writes for the index, is dropped.
func ReadReferenceColumns(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("reference file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read reference header: %w", err)
	}

	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) > 0 && strings.TrimSpace(header[0]) == "" {
		header = header[1:]
	}

	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
		if cols[i] == "" {
			return nil, fmt.Errorf("reference column %d has no name", i)
		}
	}
	return cols, nil
}
