package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cupFilter(conf, iou float64, maxDet int) *Filter {
	return NewFilter(FilterConfig{
		ConfThresh:    conf,
		IoUThresh:     iou,
		MaxDetections: maxDet,
		ClassFilter:   []string{"cup"},
		LabelMap:      map[string]int{"cup": 41, "person": 0},
	})
}

func TestFilterConfidenceThreshold(t *testing.T) {
	f := cupFilter(0.5, 0.45, 50)

	out := f.Process([]Detection{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Conf: 0.4, ClassID: 41},
		{X1: 100, Y1: 100, X2: 110, Y2: 110, Conf: 0.9, ClassID: 41},
	})
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].X1)
}

func TestFilterClassFilter(t *testing.T) {
	f := cupFilter(0.1, 0.45, 50)

	out := f.Process([]Detection{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Conf: 0.9, ClassID: 0},  // person, filtered
		{X1: 50, Y1: 50, X2: 60, Y2: 60, Conf: 0.9, ClassID: 41},
		{X1: 80, Y1: 80, X2: 90, Y2: 90, Conf: 0.9, ClassID: 99}, // unknown id
	})
	require.Len(t, out, 1)
	assert.Equal(t, 41, out[0].ClassID)
}

func TestFilterClassNameLookup(t *testing.T) {
	f := cupFilter(0.1, 0.45, 50)
	assert.Equal(t, "cup", f.ClassName(41))
	assert.Equal(t, "", f.ClassName(0))
}

func TestFilterNMS(t *testing.T) {
	f := cupFilter(0.1, 0.45, 50)

	// Two heavily overlapping boxes and one far away: NMS keeps the
	// higher-confidence overlap plus the distant box.
	out := f.Process([]Detection{
		{X1: 0, Y1: 0, X2: 100, Y2: 100, Conf: 0.7, ClassID: 41},
		{X1: 5, Y1: 5, X2: 105, Y2: 105, Conf: 0.9, ClassID: 41},
		{X1: 300, Y1: 300, X2: 400, Y2: 400, Conf: 0.6, ClassID: 41},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].Conf)
	assert.Equal(t, 0.6, out[1].Conf)
}

func TestFilterMaxDetections(t *testing.T) {
	f := cupFilter(0.1, 0.45, 2)

	out := f.Process([]Detection{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Conf: 0.9, ClassID: 41},
		{X1: 100, Y1: 0, X2: 110, Y2: 10, Conf: 0.8, ClassID: 41},
		{X1: 200, Y1: 0, X2: 210, Y2: 10, Conf: 0.7, ClassID: 41},
	})
	assert.Len(t, out, 2)
}

func TestFilterEmptyInput(t *testing.T) {
	f := cupFilter(0.5, 0.45, 50)
	assert.Empty(t, f.Process(nil))
}

func TestIoU(t *testing.T) {
	t.Run("identical boxes", func(t *testing.T) {
		a := Detection{X1: 0, Y1: 0, X2: 10, Y2: 10}
		assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	})

	t.Run("disjoint boxes", func(t *testing.T) {
		a := Detection{X1: 0, Y1: 0, X2: 10, Y2: 10}
		b := Detection{X1: 20, Y1: 20, X2: 30, Y2: 30}
		assert.Equal(t, 0.0, IoU(a, b))
	})

	t.Run("half overlap", func(t *testing.T) {
		a := Detection{X1: 0, Y1: 0, X2: 10, Y2: 10}
		b := Detection{X1: 5, Y1: 0, X2: 15, Y2: 10}
		// inter=50, union=150
		assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-9)
	})
}
