package scandb

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/echerrman/picoscan/internal/monitoring"
	"github.com/echerrman/picoscan/internal/scan"
)

type ScanDB struct {
	*sql.DB
}

// schema.sql defines tables for capture sessions, per-frame point counts
// and tracked sensor poses.
//
//go:embed schema.sql
var schemaSQL string

func NewScanDB(path string) (*ScanDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		return nil, err
	}

	monitoring.Logf("initialized scan database schema")

	return &ScanDB{db}, nil
}

// Session is one capture session. It records frames and poses against its
// own session row.
type Session struct {
	ID string

	db *ScanDB
}

// StartSession creates a new capture session record.
func (sdb *ScanDB) StartSession(sourceAddress, notes string) (*Session, error) {
	sessionID := uuid.New().String()

	query := `
		INSERT INTO scan_sessions (id, source_address, session_notes)
		VALUES (?, ?, ?)
	`

	_, err := sdb.Exec(query, sessionID, sourceAddress, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to start scan session: %v", err)
	}

	return &Session{ID: sessionID, db: sdb}, nil
}

// RecordFrame stores the point counts of one decoded scan frame.
func (s *Session) RecordFrame(telegramCounter uint64, rawPoints, keptPoints int) error {
	query := `
		INSERT INTO scan_frames (session_id, telegram_counter, raw_points, kept_points)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, s.ID, int64(telegramCounter), rawPoints, keptPoints)
	if err != nil {
		return fmt.Errorf("failed to insert scan frame: %v", err)
	}

	return nil
}

// RecordPose stores one tracked sensor pose keyed by the device timestamp.
func (s *Session) RecordPose(timestampMicros uint64, pose scan.Pose) error {
	query := `
		INSERT INTO scan_poses (session_id, device_timestamp_us, x, y, z, qw, qx, qy, qz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, s.ID, int64(timestampMicros),
		pose.Position.X, pose.Position.Y, pose.Position.Z,
		pose.Orientation.Real, pose.Orientation.Imag, pose.Orientation.Jmag, pose.Orientation.Kmag)
	if err != nil {
		return fmt.Errorf("failed to insert pose: %v", err)
	}

	return nil
}

// End closes the session and rolls up its frame and pose counts.
func (s *Session) End() error {
	query := `
		UPDATE scan_sessions
		SET
			end_timestamp = UNIXEPOCH('subsec'),
			frame_count = (SELECT COUNT(*) FROM scan_frames WHERE session_id = ?),
			pose_count = (SELECT COUNT(*) FROM scan_poses WHERE session_id = ?)
		WHERE id = ?
	`

	_, err := s.db.Exec(query, s.ID, s.ID, s.ID)
	if err != nil {
		return fmt.Errorf("failed to end scan session: %v", err)
	}

	return nil
}

// SessionSummary describes one stored capture session.
type SessionSummary struct {
	ID             string   `json:"id"`
	StartTimestamp float64  `json:"start_timestamp"`
	EndTimestamp   *float64 `json:"end_timestamp,omitempty"`
	SourceAddress  string   `json:"source_address"`
	FrameCount     int      `json:"frame_count"`
	PoseCount      int      `json:"pose_count"`
	SessionNotes   string   `json:"session_notes"`
}

// RecentSessions retrieves the most recent capture sessions.
func (sdb *ScanDB) RecentSessions(limit int) ([]SessionSummary, error) {
	query := `
		SELECT id, start_timestamp, end_timestamp, source_address, frame_count, pose_count, session_notes
		FROM scan_sessions
		ORDER BY start_timestamp DESC
		LIMIT ?
	`

	rows, err := sdb.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %v", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		err := rows.Scan(&s.ID, &s.StartTimestamp, &s.EndTimestamp, &s.SourceAddress, &s.FrameCount, &s.PoseCount, &s.SessionNotes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %v", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
