package bundleadjust

import "sort"

// Visibility is the sparse point by view relation marking which points are observed in which views.
// Views are referred to by their index in the pose list, not by ViewID.
type Visibility struct {
	views  [][]int
	points [][]int
	count  int
}

func newVisibility(numPoints, numViews int) *Visibility {
	return &Visibility{
		views:  make([][]int, numPoints),
		points: make([][]int, numViews),
	}
}

// set marks point i as seen in view j. Marking a pair twice has no effect.
func (v *Visibility) set(i, j int) {
	if v.At(i, j) {
		return
	}
	v.views[i] = append(v.views[i], j)
	v.points[j] = append(v.points[j], i)
	v.count++
}

// At reports whether point i is observed in view j.
func (v *Visibility) At(i, j int) bool {
	for _, view := range v.views[i] {
		if view == j {
			return true
		}
	}
	return false
}

// Count returns the number of (point, view) pairs marked visible.
func (v *Visibility) Count() int {
	return v.count
}

// NumPoints returns the number of rows.
func (v *Visibility) NumPoints() int {
	return len(v.views)
}

// NumViews returns the number of columns.
func (v *Visibility) NumViews() int {
	return len(v.points)
}

// ViewsOf returns the sorted view indices in which point i is observed.
func (v *Visibility) ViewsOf(i int) []int {
	out := append([]int(nil), v.views[i]...)
	sort.Ints(out)
	return out
}

// PointsIn returns the sorted point indices observed in view j.
func (v *Visibility) PointsIn(j int) []int {
	out := append([]int(nil), v.points[j]...)
	sort.Ints(out)
	return out
}

// RowCount returns the number of views in which point i is observed.
func (v *Visibility) RowCount(i int) int {
	return len(v.views[i])
}
