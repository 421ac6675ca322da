package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// fingerprint digests everything that changes an evaluation: the parsed
// trees, the column order and alignment, and the scaler when applied. Two
// bundles with equal fingerprints score every record identically.
func (b *Bundle) fingerprint() string {
	h := sha256.New()
	m := b.Model
	fmt.Fprintf(h, "model|%s|%v|%v|%d|%v\n", m.Objective, m.sigmoid, m.AverageOutput, m.NumFeatures, b.featureOf)
	for _, t := range m.Trees {
		writeTree(h, t)
	}
	fmt.Fprintf(h, "columns|%q\n", b.Schema.Names())
	if b.applyScaler {
		s := b.Scaler
		fmt.Fprintf(h, "scaler|%q|%v|%v|%v|%v\n", s.Columns, s.DataMin, s.DataMax, s.FeatureRange, b.scalerCol)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeTree(h hash.Hash, t *Tree) {
	fmt.Fprintf(h, "tree|%d|%v|%v|%v|%v|%v|%v|%v|%v|%v|%v\n",
		t.NumLeaves, t.SplitFeature, t.Threshold, t.DecisionType, t.LeftChild, t.RightChild,
		t.LeafValue, t.LeafCount, t.InternalCount, t.CatBoundaries, t.CatThreshold)
}
