package sqlstore

import (
	"context"

	"github.com/example/classroom-attendance/internal/persistence"
)

const classColumns = `id, name, description, capacity, location, is_active, teacher_id, created_at, updated_at`

func (q *queries) CreateClass(ctx context.Context, class persistence.Class) error {
	_, err := q.exec(ctx, `INSERT INTO classes (`+classColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		class.ID, class.Name, class.Description, class.Capacity, class.Location, class.IsActive, class.TeacherID,
		formatTime(class.CreatedAt), formatTime(class.UpdatedAt))
	return err
}

func (q *queries) UpdateClass(ctx context.Context, class persistence.Class) error {
	return q.execOne(ctx, `UPDATE classes SET
			name = ?, description = ?, capacity = ?, location = ?, is_active = ?, teacher_id = ?, updated_at = ?
		WHERE id = ?`,
		class.Name, class.Description, class.Capacity, class.Location, class.IsActive, class.TeacherID,
		formatTime(class.UpdatedAt), class.ID)
}

func (q *queries) GetClass(ctx context.Context, id string) (persistence.Class, error) {
	var row classRow
	if err := q.get(ctx, &row, `SELECT `+classColumns+` FROM classes WHERE id = ?`, id); err != nil {
		return persistence.Class{}, err
	}
	return row.model(), nil
}

func (q *queries) LockClass(ctx context.Context, id string) (persistence.Class, error) {
	var row classRow
	if err := q.get(ctx, &row, q.forUpdate(`SELECT `+classColumns+` FROM classes WHERE id = ?`), id); err != nil {
		return persistence.Class{}, err
	}
	return row.model(), nil
}

func (q *queries) ListClasses(ctx context.Context, teacherID string) ([]persistence.Class, error) {
	var rows []classRow
	var err error
	if teacherID == "" {
		err = q.selectAll(ctx, &rows, `SELECT `+classColumns+` FROM classes ORDER BY name, id`)
	} else {
		err = q.selectAll(ctx, &rows, `SELECT `+classColumns+` FROM classes WHERE teacher_id = ? ORDER BY name, id`, teacherID)
	}
	if err != nil {
		return nil, err
	}
	classes := make([]persistence.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, row.model())
	}
	return classes, nil
}

func (q *queries) CountClassesForTeacher(ctx context.Context, teacherID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM classes WHERE teacher_id = ?`, teacherID)
}

func (q *queries) AddClassStudent(ctx context.Context, classID, studentID string) (bool, error) {
	affected, err := q.exec(ctx, `INSERT INTO class_students (class_id, student_id) VALUES (?, ?)
		ON CONFLICT (class_id, student_id) DO NOTHING`, classID, studentID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (q *queries) RemoveClassStudent(ctx context.Context, classID, studentID string) error {
	return q.execOne(ctx, `DELETE FROM class_students WHERE class_id = ? AND student_id = ?`, classID, studentID)
}

func (q *queries) IsClassStudent(ctx context.Context, classID, studentID string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(*) FROM class_students WHERE class_id = ? AND student_id = ?`, classID, studentID)
}

func (q *queries) CountClassStudents(ctx context.Context, classID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM class_students WHERE class_id = ?`, classID)
}

func (q *queries) ListClassStudents(ctx context.Context, classID string) ([]persistence.Student, error) {
	return q.listStudents(ctx, `SELECT s.id, s.user_id, s.name, s.created_at, s.updated_at
		FROM students s JOIN class_students cs ON cs.student_id = s.id
		WHERE cs.class_id = ? ORDER BY s.name, s.id`, classID)
}

func (q *queries) RemoveStudentFromAllClasses(ctx context.Context, studentID string) error {
	_, err := q.exec(ctx, `DELETE FROM class_students WHERE student_id = ?`, studentID)
	return err
}

func (q *queries) listStudents(ctx context.Context, query string, args ...any) ([]persistence.Student, error) {
	var rows []studentRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	students := make([]persistence.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.model())
	}
	return students, nil
}

const sessionColumns = `id, name, start_time, end_time, class_id, created_at, updated_at`

func (q *queries) CreateSession(ctx context.Context, session persistence.Session) error {
	_, err := q.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Name, formatTime(session.StartTime), formatTime(session.EndTime), session.ClassID,
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt))
	return err
}

func (q *queries) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	var row sessionRow
	if err := q.get(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id); err != nil {
		return persistence.Session{}, err
	}
	return row.model(), nil
}

func (q *queries) ListSessions(ctx context.Context, classID string) ([]persistence.Session, error) {
	var rows []sessionRow
	var err error
	if classID == "" {
		err = q.selectAll(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_time, id`)
	} else {
		err = q.selectAll(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions WHERE class_id = ? ORDER BY start_time, id`, classID)
	}
	if err != nil {
		return nil, err
	}
	sessions := make([]persistence.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.model())
	}
	return sessions, nil
}

func (q *queries) DeleteSession(ctx context.Context, id string) error {
	if _, err := q.exec(ctx, `DELETE FROM session_students WHERE session_id = ?`, id); err != nil {
		return err
	}
	return q.execOne(ctx, `DELETE FROM sessions WHERE id = ?`, id)
}

func (q *queries) AddSessionStudent(ctx context.Context, sessionID, studentID string) (bool, error) {
	affected, err := q.exec(ctx, `INSERT INTO session_students (session_id, student_id) VALUES (?, ?)
		ON CONFLICT (session_id, student_id) DO NOTHING`, sessionID, studentID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (q *queries) RemoveSessionStudent(ctx context.Context, sessionID, studentID string) error {
	return q.execOne(ctx, `DELETE FROM session_students WHERE session_id = ? AND student_id = ?`, sessionID, studentID)
}

func (q *queries) IsSessionStudent(ctx context.Context, sessionID, studentID string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(*) FROM session_students WHERE session_id = ? AND student_id = ?`, sessionID, studentID)
}

func (q *queries) CountSessionStudents(ctx context.Context, sessionID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM session_students WHERE session_id = ?`, sessionID)
}

func (q *queries) ListSessionStudents(ctx context.Context, sessionID string) ([]persistence.Student, error) {
	return q.listStudents(ctx, `SELECT s.id, s.user_id, s.name, s.created_at, s.updated_at
		FROM students s JOIN session_students ss ON ss.student_id = s.id
		WHERE ss.session_id = ? ORDER BY s.name, s.id`, sessionID)
}

func (q *queries) RemoveStudentFromAllSessions(ctx context.Context, studentID string) error {
	_, err := q.exec(ctx, `DELETE FROM session_students WHERE student_id = ?`, studentID)
	return err
}
