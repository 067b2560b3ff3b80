package scandb

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/echerrman/picoscan/internal/scan"
)

func openTestDB(t *testing.T) *ScanDB {
	t.Helper()
	db, err := NewScanDB(filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	session, err := db.StartSession("192.168.0.1:2115", "bench capture")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.ID == "" {
		t.Fatal("session must get a generated ID")
	}

	if err := session.RecordFrame(42, 1000, 120); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	if err := session.RecordFrame(43, 900, 110); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	pose := scan.Pose{
		Position:    r3.Vec{X: 1.5, Y: -2, Z: 0.25},
		Orientation: quat.Number{Real: 1},
	}
	if err := session.RecordPose(1_000_000, pose); err != nil {
		t.Fatalf("RecordPose: %v", err)
	}

	if err := session.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	sessions, err := db.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.ID != session.ID || got.SourceAddress != "192.168.0.1:2115" || got.SessionNotes != "bench capture" {
		t.Errorf("session row: %+v", got)
	}
	if got.FrameCount != 2 || got.PoseCount != 1 {
		t.Errorf("rollup counts: frames=%d poses=%d", got.FrameCount, got.PoseCount)
	}
	if got.EndTimestamp == nil {
		t.Error("ended session must have an end timestamp")
	}
}

func TestRecordedValuesRoundTrip(t *testing.T) {
	db := openTestDB(t)

	session, err := db.StartSession("127.0.0.1:2115", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	pose := scan.Pose{
		Position:    r3.Vec{X: 0.5, Y: 1.25, Z: -3},
		Orientation: quat.Number{Real: 0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5},
	}
	if err := session.RecordPose(987654, pose); err != nil {
		t.Fatalf("RecordPose: %v", err)
	}

	var ts int64
	var x, y, z, qw, qx, qy, qz float64
	row := db.QueryRow(`SELECT device_timestamp_us, x, y, z, qw, qx, qy, qz FROM scan_poses WHERE session_id = ?`, session.ID)
	if err := row.Scan(&ts, &x, &y, &z, &qw, &qx, &qy, &qz); err != nil {
		t.Fatalf("scan pose row: %v", err)
	}
	if ts != 987654 {
		t.Errorf("device timestamp: got %d", ts)
	}
	if x != 0.5 || y != 1.25 || z != -3 {
		t.Errorf("position: (%v, %v, %v)", x, y, z)
	}
	if qw != 0.5 || qx != 0.5 || qy != 0.5 || qz != 0.5 {
		t.Errorf("orientation: (%v, %v, %v, %v)", qw, qx, qy, qz)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	db := openTestDB(t)

	first, err := db.StartSession("10.0.0.1:2115", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	second, err := db.StartSession("10.0.0.2:2115", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("sessions must get distinct IDs")
	}

	if err := first.RecordFrame(1, 10, 5); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	if err := first.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := second.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	sessions, err := db.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		switch s.ID {
		case first.ID:
			if s.FrameCount != 1 {
				t.Errorf("first session frame count: %d", s.FrameCount)
			}
		case second.ID:
			if s.FrameCount != 0 {
				t.Errorf("second session frame count: %d", s.FrameCount)
			}
		}
	}
}
