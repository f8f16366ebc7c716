package sqlstore

import (
	"context"
	"strings"

	"github.com/example/classroom-attendance/internal/persistence"
)

const faceDataColumns = `id, student_id, embedding, checksum, created_at, updated_at`

// UpsertFaceData keeps the existing row id and created_at when a student re-enrolls.
func (q *queries) UpsertFaceData(ctx context.Context, data persistence.FaceData) error {
	_, err := q.exec(ctx, `INSERT INTO face_data (`+faceDataColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			embedding = excluded.embedding,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		data.ID, data.StudentID, data.Embedding, data.Checksum, formatTime(data.CreatedAt), formatTime(data.UpdatedAt))
	return err
}

func (q *queries) GetFaceData(ctx context.Context, studentID string) (persistence.FaceData, error) {
	var row faceDataRow
	if err := q.get(ctx, &row, `SELECT `+faceDataColumns+` FROM face_data WHERE student_id = ?`, studentID); err != nil {
		return persistence.FaceData{}, err
	}
	return row.model(), nil
}

func (q *queries) ListFaceData(ctx context.Context) ([]persistence.FaceData, error) {
	var rows []faceDataRow
	if err := q.selectAll(ctx, &rows, `SELECT `+faceDataColumns+` FROM face_data ORDER BY student_id`); err != nil {
		return nil, err
	}
	out := make([]persistence.FaceData, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) DeleteFaceData(ctx context.Context, studentID string) error {
	return q.execOne(ctx, `DELETE FROM face_data WHERE student_id = ?`, studentID)
}

const faceImageColumns = `id, student_id, image_ref, created_at, updated_at`

func (q *queries) CreateFaceImage(ctx context.Context, image persistence.FaceImage) error {
	_, err := q.exec(ctx, `INSERT INTO face_images (`+faceImageColumns+`) VALUES (?, ?, ?, ?, ?)`,
		image.ID, image.StudentID, image.ImageRef, formatTime(image.CreatedAt), formatTime(image.UpdatedAt))
	return err
}

func (q *queries) ListFaceImages(ctx context.Context, studentID string) ([]persistence.FaceImage, error) {
	var rows []faceImageRow
	if err := q.selectAll(ctx, &rows, `SELECT `+faceImageColumns+` FROM face_images
		WHERE student_id = ? ORDER BY created_at, id`, studentID); err != nil {
		return nil, err
	}
	out := make([]persistence.FaceImage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) DeleteFaceImage(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM face_images WHERE id = ?`, id)
}

func (q *queries) DeleteFaceImagesForStudent(ctx context.Context, studentID string) error {
	_, err := q.exec(ctx, `DELETE FROM face_images WHERE student_id = ?`, studentID)
	return err
}

const attendanceColumns = `id, student_id, session_id, status, source, observed_at, created_at, updated_at`

// InsertAttendance relies on the (student_id, session_id) unique key so that
// concurrent first writers resolve inside the database.
func (q *queries) InsertAttendance(ctx context.Context, attendance persistence.Attendance) (bool, error) {
	affected, err := q.exec(ctx, `INSERT INTO attendance (`+attendanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, session_id) DO NOTHING`,
		attendance.ID, attendance.StudentID, attendance.SessionID, string(attendance.Status), string(attendance.Source),
		formatTime(attendance.Timestamp), formatTime(attendance.CreatedAt), formatTime(attendance.UpdatedAt))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (q *queries) LockAttendance(ctx context.Context, studentID, sessionID string) (persistence.Attendance, error) {
	return q.getAttendance(ctx, q.forUpdate(`SELECT `+attendanceColumns+` FROM attendance WHERE student_id = ? AND session_id = ?`), studentID, sessionID)
}

func (q *queries) GetAttendance(ctx context.Context, studentID, sessionID string) (persistence.Attendance, error) {
	return q.getAttendance(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE student_id = ? AND session_id = ?`, studentID, sessionID)
}

func (q *queries) getAttendance(ctx context.Context, query string, args ...any) (persistence.Attendance, error) {
	var row attendanceRow
	if err := q.get(ctx, &row, query, args...); err != nil {
		return persistence.Attendance{}, err
	}
	return row.model(), nil
}

func (q *queries) UpdateAttendance(ctx context.Context, attendance persistence.Attendance) error {
	return q.execOne(ctx, `UPDATE attendance SET status = ?, source = ?, observed_at = ?, updated_at = ?
		WHERE id = ? AND student_id = ? AND session_id = ?`,
		string(attendance.Status), string(attendance.Source), formatTime(attendance.Timestamp), formatTime(attendance.UpdatedAt),
		attendance.ID, attendance.StudentID, attendance.SessionID)
}

func (q *queries) ListAttendanceBySession(ctx context.Context, sessionID string) ([]persistence.Attendance, error) {
	return q.listAttendance(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE session_id = ? ORDER BY observed_at, id`, sessionID)
}

func (q *queries) ListAttendanceByStudent(ctx context.Context, studentID string) ([]persistence.Attendance, error) {
	return q.listAttendance(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE student_id = ? ORDER BY observed_at, id`, studentID)
}

func (q *queries) listAttendance(ctx context.Context, query string, arg any) ([]persistence.Attendance, error) {
	var rows []attendanceRow
	if err := q.selectAll(ctx, &rows, query, arg); err != nil {
		return nil, err
	}
	out := make([]persistence.Attendance, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) CountAttendanceBySession(ctx context.Context, sessionID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM attendance WHERE session_id = ?`, sessionID)
}

func (q *queries) DeleteAttendanceForStudent(ctx context.Context, studentID string) error {
	_, err := q.exec(ctx, `DELETE FROM attendance WHERE student_id = ?`, studentID)
	return err
}

func (q *queries) DeleteAttendanceForSession(ctx context.Context, sessionID string) error {
	_, err := q.exec(ctx, `DELETE FROM attendance WHERE session_id = ?`, sessionID)
	return err
}

func (q *queries) AppendSystemLog(ctx context.Context, entry persistence.SystemLog) error {
	_, err := q.exec(ctx, `INSERT INTO system_logs (id, level, message, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Level), entry.Message, rawJSON(entry.Meta), formatTime(entry.CreatedAt))
	return err
}

func (q *queries) ListSystemLogs(ctx context.Context, filter persistence.SystemLogFilter) ([]persistence.SystemLog, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Before != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, formatTime(*filter.Before))
	}

	query := `SELECT id, level, message, meta, created_at FROM system_logs`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []systemLogRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]persistence.SystemLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) AppendBackupLog(ctx context.Context, entry persistence.BackupLog) error {
	_, err := q.exec(ctx, `INSERT INTO backup_logs (id, status, backup_type, path, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Status), entry.Type, nullString(entry.Path), nullInt64(entry.DurationMS), formatTime(entry.CreatedAt))
	return err
}

func (q *queries) ListBackupLogs(ctx context.Context, limit int) ([]persistence.BackupLog, error) {
	query := `SELECT id, status, backup_type, path, duration_ms, created_at FROM backup_logs ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []backupLogRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]persistence.BackupLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) UpsertSetting(ctx context.Context, setting persistence.SystemSetting) error {
	_, err := q.exec(ctx, `INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		setting.Key, string(setting.Value), formatTime(setting.UpdatedAt))
	return err
}

func (q *queries) GetSetting(ctx context.Context, key string) (persistence.SystemSetting, error) {
	var row settingRow
	if err := q.get(ctx, &row, `SELECT key, value, updated_at FROM system_settings WHERE key = ?`, key); err != nil {
		return persistence.SystemSetting{}, err
	}
	return row.model(), nil
}

func (q *queries) ListSettings(ctx context.Context) ([]persistence.SystemSetting, error) {
	var rows []settingRow
	if err := q.selectAll(ctx, &rows, `SELECT key, value, updated_at FROM system_settings ORDER BY key`); err != nil {
		return nil, err
	}
	out := make([]persistence.SystemSetting, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (q *queries) DeleteSetting(ctx context.Context, key string) error {
	return q.execOne(ctx, `DELETE FROM system_settings WHERE key = ?`, key)
}
