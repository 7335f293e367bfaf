package labels

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Label is an oriented 3D box annotation. Yaw rotates about +Z (radians).
type Label struct {
	Class      ObjectClass
	Center     r3.Vec
	Dimensions Dimensions
	Yaw        float64
}

// Corners returns the eight box corners in world coordinates: the bottom
// face first (counter-clockwise from +L/+W), then the top face in the same
// order.
func (l Label) Corners() [8]r3.Vec {
	hl, hw, hh := l.Dimensions.L/2, l.Dimensions.W/2, l.Dimensions.H/2
	local := [8]r3.Vec{
		{X: hl, Y: hw, Z: -hh}, {X: -hl, Y: hw, Z: -hh}, {X: -hl, Y: -hw, Z: -hh}, {X: hl, Y: -hw, Z: -hh},
		{X: hl, Y: hw, Z: hh}, {X: -hl, Y: hw, Z: hh}, {X: -hl, Y: -hw, Z: hh}, {X: hl, Y: -hw, Z: hh},
	}
	rot := r3.NewRotation(l.Yaw, r3.Vec{Z: 1})
	var out [8]r3.Vec
	for i, c := range local {
		out[i] = r3.Add(l.Center, rot.Rotate(c))
	}
	return out
}

// Record converts the label back into the file schema.
func (l Label) Record() Record {
	yaw := l.Yaw
	dims := l.Dimensions
	return Record{
		Type:       string(l.Class),
		Location:   &Location{X: l.Center.X, Y: l.Center.Y, Z: l.Center.Z},
		Dimensions: &dims,
		Rotation:   &yaw,
	}
}
