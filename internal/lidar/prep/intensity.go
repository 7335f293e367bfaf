package prep

// IntensityScale is the full-scale value of an 8-bit intensity channel.
const IntensityScale = 255.0

// NormalizeIntensity divides the 4th channel by 255. Clouds without an
// intensity channel pass through as a copy.
//
// Values are not clamped: inputs above 255 land above 1.0, and calling this
// twice divides twice.
func NormalizeIntensity(pc *PointCloud) *PointCloud {
	out := pc.Clone()
	if out == nil || !out.HasIntensity {
		return out
	}
	for i := range out.Points {
		out.Points[i].Intensity /= IntensityScale
	}
	return out
}
