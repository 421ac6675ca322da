package inference

// Path-dependent TreeSHAP (Lundberg et al., "Consistent Individualized
// Feature Attribution for Tree Ensembles"), using node data counts as cover.

type pathElement struct {
	featureIndex int
	zeroFraction float64
	oneFraction  float64
	pweight      float64
}

func extendPath(path []pathElement, depth int, zeroFraction, oneFraction float64, featureIndex int) {
	path[depth] = pathElement{
		featureIndex: featureIndex,
		zeroFraction: zeroFraction,
		oneFraction:  oneFraction,
	}
	if depth == 0 {
		path[depth].pweight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].pweight += oneFraction * path[i].pweight * float64(i+1) / float64(depth+1)
		path[i].pweight = zeroFraction * path[i].pweight * float64(depth-i) / float64(depth+1)
	}
}

func unwindPath(path []pathElement, depth, pathIndex int) {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[depth].pweight

	for i := depth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := path[i].pweight
			path[i].pweight = nextOnePortion * float64(depth+1) / (float64(i+1) * oneFraction)
			nextOnePortion = tmp - path[i].pweight*zeroFraction*float64(depth-i)/float64(depth+1)
		} else {
			path[i].pweight = path[i].pweight * float64(depth+1) / (zeroFraction * float64(depth-i))
		}
	}

	for i := pathIndex; i < depth; i++ {
		path[i].featureIndex = path[i+1].featureIndex
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

// unwoundPathSum is the total permutation weight of the path with element
// pathIndex removed, without modifying path.
func unwoundPathSum(path []pathElement, depth, pathIndex int) float64 {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[depth].pweight

	var total float64
	for i := depth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := nextOnePortion * float64(depth+1) / (float64(i+1) * oneFraction)
			total += tmp
			nextOnePortion = path[i].pweight - tmp*zeroFraction*(float64(depth-i)/float64(depth+1))
		} else {
			total += (path[i].pweight / zeroFraction) / (float64(depth-i) / float64(depth+1))
		}
	}
	return total
}

// shap adds the contributions of this tree for x into phi.
func (t *Tree) shap(x, phi []float64) {
	if t.NumLeaves <= 1 {
		return
	}
	// Paths of successive depths are packed into one buffer; the path at
	// depth d starts at d(d+1)/2 and holds d+1 elements.
	buf := make([]pathElement, (t.maxDepth+2)*(t.maxDepth+3)/2)
	t.recurse(x, phi, 0, 0, buf, 1, 1, -1)
}

func (t *Tree) recurse(x, phi []float64, node, depth int, parentPath []pathElement,
	parentZeroFraction, parentOneFraction float64, parentFeatureIndex int) {

	// The current path lives right after the parent's unique path.
	path := parentPath[depth:]
	copy(path[:depth], parentPath[:depth])
	extendPath(path, depth, parentZeroFraction, parentOneFraction, parentFeatureIndex)

	if node < 0 {
		leafValue := t.LeafValue[^node]
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.featureIndex] += w * (el.oneFraction - el.zeroFraction) * leafValue
		}
		return
	}

	splitFeature := t.SplitFeature[node]
	hot := t.decision(x[splitFeature], node)
	cold := t.RightChild[node]
	if hot == cold {
		cold = t.LeftChild[node]
	}

	w := t.dataCount(node)
	hotZeroFraction := t.dataCount(hot) / w
	coldZeroFraction := t.dataCount(cold) / w
	incomingZeroFraction := 1.0
	incomingOneFraction := 1.0

	// A feature split on twice along a path keeps a single element.
	pathIndex := 0
	for ; pathIndex <= depth; pathIndex++ {
		if path[pathIndex].featureIndex == splitFeature {
			break
		}
	}
	if pathIndex != depth+1 {
		incomingZeroFraction = path[pathIndex].zeroFraction
		incomingOneFraction = path[pathIndex].oneFraction
		unwindPath(path, depth, pathIndex)
		depth--
	}

	t.recurse(x, phi, hot, depth+1, path, hotZeroFraction*incomingZeroFraction, incomingOneFraction, splitFeature)
	t.recurse(x, phi, cold, depth+1, path, coldZeroFraction*incomingZeroFraction, 0, splitFeature)
}
