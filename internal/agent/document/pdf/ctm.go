package pdf

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Multiply returns m × n, the transform that applies m and then n.
func (m Matrix) Multiply(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// Placement is where an image XObject was drawn, in user space with the
// origin at the bottom left.
type Placement struct {
	Name string
	X    float64
	Y    float64
}

// placementTracker follows the graphics state through q, Q and cm and
// records every image draw.
type placementTracker struct {
	ctm        Matrix
	saved      []Matrix
	placements []Placement
}

func newPlacementTracker() *placementTracker {
	return &placementTracker{ctm: Identity}
}

func (t *placementTracker) save() {
	t.saved = append(t.saved, t.ctm)
}

// restore ignores unbalanced Q operators.
func (t *placementTracker) restore() {
	if len(t.saved) == 0 {
		return
	}
	t.ctm = t.saved[len(t.saved)-1]
	t.saved = t.saved[:len(t.saved)-1]
}

func (t *placementTracker) concat(m Matrix) {
	t.ctm = m.Multiply(t.ctm)
}

func (t *placementTracker) draw(name string) {
	t.placements = append(t.placements, Placement{Name: name, X: t.ctm[4], Y: t.ctm[5]})
}
