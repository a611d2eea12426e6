package postgres

import (
	"context"
	"fmt"

	"github.com/presenceio/presenced/internal/store"
)

// AttendanceRepository writes attendance entries to PostgreSQL.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// RecordIfAbsent inserts an attendance entry unless one already exists for
// the task id. Returns true if a new row was written.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, rec store.AttendanceRecord) (bool, error) {
	query := `
		INSERT INTO attendance_log (task_id, subject_id, camera_id, location, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, rec.TaskID, rec.SubjectID, rec.CameraID, rec.Location, rec.At)
	if err != nil {
		return false, fmt.Errorf("record attendance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attendance rows affected: %w", err)
	}
	return affected == 1, nil
}

// CountForSubject returns the number of attendance entries for a subject.
func (r *AttendanceRepository) CountForSubject(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_log WHERE subject_id = $1", subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return count, nil
}
