package prep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Point is a single return in sensor coordinates (meters). Intensity is only
// meaningful when the owning PointCloud has HasIntensity set.
type Point struct {
	X, Y, Z   float64
	Intensity float64
}

// PointCloud is an ordered set of points sharing one channel layout.
type PointCloud struct {
	Points       []Point
	HasIntensity bool // true when the source array carried a 4th column
}

// NewPointCloud builds a cloud from N×3 or N×4 rows. Rows of any other width
// are rejected.
func NewPointCloud(rows [][]float64) (*PointCloud, error) {
	pc := &PointCloud{Points: make([]Point, 0, len(rows))}
	for i, r := range rows {
		switch len(r) {
		case 3:
			if pc.HasIntensity {
				return nil, fmt.Errorf("row %d: got 3 columns in a 4-column cloud", i)
			}
			pc.Points = append(pc.Points, Point{X: r[0], Y: r[1], Z: r[2]})
		case 4:
			if i > 0 && !pc.HasIntensity {
				return nil, fmt.Errorf("row %d: got 4 columns in a 3-column cloud", i)
			}
			pc.HasIntensity = true
			pc.Points = append(pc.Points, Point{X: r[0], Y: r[1], Z: r[2], Intensity: r[3]})
		default:
			return nil, fmt.Errorf("row %d: expected 3 or 4 columns, got %d", i, len(r))
		}
	}
	return pc, nil
}

// FromDense converts a reader array (N×3 or N×4, extra columns ignored past
// the 4th) into a PointCloud. A nil matrix yields nil.
func FromDense(m *mat.Dense) (*PointCloud, error) {
	if m == nil {
		return nil, nil
	}
	if m.IsEmpty() {
		return &PointCloud{}, nil
	}
	r, c := m.Dims()
	if c < 3 {
		return nil, fmt.Errorf("point array must have at least 3 columns, got %d", c)
	}
	pc := &PointCloud{Points: make([]Point, r), HasIntensity: c >= 4}
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		p := Point{X: row[0], Y: row[1], Z: row[2]}
		if pc.HasIntensity {
			p.Intensity = row[3]
		}
		pc.Points[i] = p
	}
	return pc, nil
}

// Dense returns the cloud as an N×3 or N×4 matrix. An empty cloud returns nil
// because gonum does not allow zero-sized matrices.
func (pc *PointCloud) Dense() *mat.Dense {
	if pc == nil || len(pc.Points) == 0 {
		return nil
	}
	cols := pc.Columns()
	data := make([]float64, 0, len(pc.Points)*cols)
	for _, p := range pc.Points {
		data = append(data, p.X, p.Y, p.Z)
		if pc.HasIntensity {
			data = append(data, p.Intensity)
		}
	}
	return mat.NewDense(len(pc.Points), cols, data)
}

// Len returns the number of points. A nil cloud has length 0.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// Columns returns 4 when the cloud carries intensity, otherwise 3.
func (pc *PointCloud) Columns() int {
	if pc != nil && pc.HasIntensity {
		return 4
	}
	return 3
}

// Clone returns a deep copy.
func (pc *PointCloud) Clone() *PointCloud {
	if pc == nil {
		return nil
	}
	out := &PointCloud{Points: make([]Point, len(pc.Points)), HasIntensity: pc.HasIntensity}
	copy(out.Points, pc.Points)
	return out
}
