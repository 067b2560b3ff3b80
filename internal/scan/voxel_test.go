package scan

import "testing"

func cloudFromPoints(points [][4]float64) *PointCloud {
	pc := &PointCloud{}
	for _, p := range points {
		pc.append(p[0], p[1], p[2], p[3])
	}
	return pc
}

func TestDownsampleCollapsesSharedCells(t *testing.T) {
	pc := cloudFromPoints([][4]float64{
		{0, 0, 0, 1},
		{0.4, 0, 0, 2},
		{5, 5, 5, 3},
	})

	out := Downsample(pc, 1.0)
	if out.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", out.Len())
	}
	// First-wins: the surviving point of the shared cell is the first one.
	if out.X[0] != 0 || out.Intensity[0] != 1 {
		t.Errorf("cell representative is not the first point: x=%f intensity=%f", out.X[0], out.Intensity[0])
	}
	if out.X[1] != 5 {
		t.Errorf("second cell representative wrong: %f", out.X[1])
	}
}

func TestDownsamplePreservesInsertionOrder(t *testing.T) {
	pc := cloudFromPoints([][4]float64{
		{10, 0, 0, 0},
		{-10, 0, 0, 0},
		{10.2, 0, 0, 0}, // same cell as the first
		{0, 3, 0, 0},
	})

	out := Downsample(pc, 1.0)
	if out.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", out.Len())
	}
	wantX := []float64{10, -10, 0}
	for i, want := range wantX {
		if out.X[i] != want {
			t.Errorf("point %d: x = %f, want %f", i, out.X[i], want)
		}
	}
}

func TestDownsampleNegativeCoordinatesUseFloorCells(t *testing.T) {
	// -0.5 and +0.5 straddle a cell boundary and must not collapse.
	pc := cloudFromPoints([][4]float64{
		{-0.5, 0, 0, 0},
		{0.5, 0, 0, 0},
		{-0.6, 0, 0, 0}, // same cell as -0.5
	})

	out := Downsample(pc, 1.0)
	if out.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", out.Len())
	}
}

func TestDownsampleEmptyInput(t *testing.T) {
	out := Downsample(&PointCloud{TelegramCounter: 3}, 1.0)
	if out.Len() != 0 {
		t.Fatalf("expected empty output, got %d points", out.Len())
	}
	if out.TelegramCounter != 3 {
		t.Error("telegram counter must carry through")
	}
}

func TestDownsampleOutputNeverLarger(t *testing.T) {
	pc := &PointCloud{}
	for i := 0; i < 500; i++ {
		pc.append(float64(i%13), float64(i%7), float64(i%3), 0)
	}
	out := Downsample(pc, 2.5)
	if out.Len() > pc.Len() {
		t.Fatalf("output %d larger than input %d", out.Len(), pc.Len())
	}
	if out.Len() == 0 {
		t.Fatal("non-empty input must not produce empty output")
	}
}
