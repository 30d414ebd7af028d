package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixMultiply(t *testing.T) {
	scale := Matrix{2, 0, 0, 3, 0, 0}
	translate := Matrix{1, 0, 0, 1, 10, 20}

	assert.Equal(t, Matrix{2, 0, 0, 3, 10, 20}, scale.Multiply(translate))
	assert.Equal(t, Matrix{2, 0, 0, 3, 20, 60}, translate.Multiply(scale))
	assert.Equal(t, scale, Identity.Multiply(scale))
}

func TestPlacementTrackerFollowsGraphicsState(t *testing.T) {
	tr := newPlacementTracker()

	tr.save()
	tr.concat(Matrix{1, 0, 0, 1, 100, 200})
	tr.save()
	tr.concat(Matrix{50, 0, 0, 40, 10, 5})
	tr.draw("Im1")
	tr.restore()
	tr.draw("Im2")
	tr.restore()
	tr.draw("Im3")
	tr.restore()
	tr.draw("Im4")

	assert.Equal(t, []Placement{
		{Name: "Im1", X: 110, Y: 205},
		{Name: "Im2", X: 100, Y: 200},
		{Name: "Im3", X: 0, Y: 0},
		{Name: "Im4", X: 0, Y: 0},
	}, tr.placements)
}
