package scan

import "math"

type voxelKey struct {
	x, y, z int64
}

// Downsample deduplicates a point cloud by snapping each point to a 3D grid
// of voxelSize-sided cells and keeping the first point seen per occupied
// cell, in input order. This is deliberately first-wins rather than a
// centroid reduction; downstream consumers depend on points surviving
// unchanged. voxelSize must be > 0.
func Downsample(pc *PointCloud, voxelSize float64) *PointCloud {
	out := &PointCloud{
		TelegramCounter: pc.TelegramCounter,
		Timestamp:       pc.Timestamp,
	}
	if pc.Len() == 0 {
		return out
	}

	seen := make(map[voxelKey]struct{}, pc.Len())
	for i := 0; i < pc.Len(); i++ {
		key := voxelKey{
			x: int64(math.Floor(pc.X[i] / voxelSize)),
			y: int64(math.Floor(pc.Y[i] / voxelSize)),
			z: int64(math.Floor(pc.Z[i] / voxelSize)),
		}
		if _, occupied := seen[key]; occupied {
			continue
		}
		seen[key] = struct{}{}
		out.append(pc.X[i], pc.Y[i], pc.Z[i], pc.Intensity[i])
	}
	return out
}
