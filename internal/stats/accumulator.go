package stats

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
)

// accumulator is one worker's private tally.
type accumulator struct {
	sampled     int
	classes     map[labels.ObjectClass]int
	failed      *roaring.Bitmap
	pointCounts []float64
}

func newAccumulator() *accumulator {
	return &accumulator{
		classes: make(map[labels.ObjectClass]int),
		failed:  roaring.New(),
	}
}

func (a *accumulator) addLabels(sets map[labels.View]*labels.LabelSet) {
	for _, view := range labels.Views {
		for c, n := range sets[view].CountByClass() {
			a.classes[c] += n
		}
	}
}

func (a *accumulator) fail(frame int) {
	a.failed.Add(uint32(frame))
}

// merge folds b into a. It is commutative and associative over the counted
// quantities; pointCounts order is irrelevant because summaries sort it.
func (a *accumulator) merge(b *accumulator) {
	a.sampled += b.sampled
	for c, n := range b.classes {
		a.classes[c] += n
	}
	a.failed.Or(b.failed)
	a.pointCounts = append(a.pointCounts, b.pointCounts...)
}
