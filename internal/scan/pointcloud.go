package scan

import (
	"math"
	"time"
)

// PointCloud holds Cartesian points as parallel arrays, in the same units
// as the scaled range values. All four slices always share one length.
type PointCloud struct {
	X         []float64
	Y         []float64
	Z         []float64
	Intensity []float64

	TelegramCounter uint64
	Timestamp       time.Time
}

// Len returns the number of points.
func (pc *PointCloud) Len() int { return len(pc.X) }

func (pc *PointCloud) append(x, y, z, intensity float64) {
	pc.X = append(pc.X, x)
	pc.Y = append(pc.Y, y)
	pc.Z = append(pc.Z, z)
	pc.Intensity = append(pc.Intensity, intensity)
}

// ExtractPointCloud converts a scan frame's polar samples into Cartesian
// coordinates using each module's per-line geometry. Only measurements
// whose first echo carries a distance produce a point; the rest are
// skipped, not zero-filled. Intensity is the first echo's RSSI when
// present, else 0.
func ExtractPointCloud(frame *ScanFrame) *PointCloud {
	pc := &PointCloud{
		TelegramCounter: frame.Header.TelegramCounter,
		Timestamp:       time.Now(),
	}
	for _, module := range frame.Modules {
		for _, m := range module.Measurements {
			if len(m.Echoes) == 0 || !m.Echoes[0].HasDistance {
				continue
			}
			first := m.Echoes[0]

			cosPhi := math.Cos(m.Phi)
			x := first.Distance * cosPhi * math.Cos(m.Theta)
			y := first.Distance * cosPhi * math.Sin(m.Theta)
			z := first.Distance * math.Sin(m.Phi)

			intensity := 0.0
			if first.HasRSSI {
				intensity = float64(first.RSSI)
			}
			pc.append(x, y, z, intensity)
		}
	}
	return pc
}
