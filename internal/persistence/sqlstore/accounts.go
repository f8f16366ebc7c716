package sqlstore

import (
	"context"

	"github.com/example/classroom-attendance/internal/persistence"
)

const whitelistColumns = `email, role, name, department, is_active, expires_at,
	invitation_sent, invitation_sent_at, provider_invitation_id,
	account_created, account_created_at, created_at, updated_at`

func (q *queries) CreateWhitelistEntry(ctx context.Context, entry persistence.WhitelistEntry) error {
	_, err := q.exec(ctx, `INSERT INTO whitelist_entries (`+whitelistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		normalizeEmail(entry.Email), string(entry.Role), entry.Name, nullString(entry.Department),
		entry.IsActive, formatNullTime(entry.ExpiresAt),
		entry.Invitation.Sent, formatNullTime(entry.Invitation.SentAt), nullString(entry.Invitation.ProviderInvitationID),
		entry.Account.Created, formatNullTime(entry.Account.CreatedAt),
		formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	return err
}

func (q *queries) UpdateWhitelistEntry(ctx context.Context, entry persistence.WhitelistEntry) error {
	return q.execOne(ctx, `UPDATE whitelist_entries SET
			role = ?, name = ?, department = ?, is_active = ?, expires_at = ?,
			invitation_sent = ?, invitation_sent_at = ?, provider_invitation_id = ?,
			account_created = ?, account_created_at = ?, updated_at = ?
		WHERE email = ?`,
		string(entry.Role), entry.Name, nullString(entry.Department), entry.IsActive, formatNullTime(entry.ExpiresAt),
		entry.Invitation.Sent, formatNullTime(entry.Invitation.SentAt), nullString(entry.Invitation.ProviderInvitationID),
		entry.Account.Created, formatNullTime(entry.Account.CreatedAt), formatTime(entry.UpdatedAt),
		normalizeEmail(entry.Email))
}

func (q *queries) GetWhitelistEntry(ctx context.Context, email string) (persistence.WhitelistEntry, error) {
	var row whitelistRow
	if err := q.get(ctx, &row, `SELECT `+whitelistColumns+` FROM whitelist_entries WHERE email = ?`, normalizeEmail(email)); err != nil {
		return persistence.WhitelistEntry{}, err
	}
	return row.model(), nil
}

func (q *queries) ListWhitelistEntries(ctx context.Context) ([]persistence.WhitelistEntry, error) {
	var rows []whitelistRow
	if err := q.selectAll(ctx, &rows, `SELECT `+whitelistColumns+` FROM whitelist_entries ORDER BY email`); err != nil {
		return nil, err
	}
	entries := make([]persistence.WhitelistEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.model())
	}
	return entries, nil
}

func (q *queries) DeleteWhitelistEntry(ctx context.Context, email string) error {
	return q.execOne(ctx, `DELETE FROM whitelist_entries WHERE email = ?`, normalizeEmail(email))
}

const userColumns = `id, external_id, email, role, created_at, updated_at`

func (q *queries) CreateUser(ctx context.Context, user persistence.User) error {
	_, err := q.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.ExternalID, normalizeEmail(user.Email), string(user.Role),
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt))
	return err
}

func (q *queries) getUser(ctx context.Context, where string, arg any) (persistence.User, error) {
	var row userRow
	if err := q.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+where, arg); err != nil {
		return persistence.User{}, err
	}
	return row.model(), nil
}

func (q *queries) GetUser(ctx context.Context, id string) (persistence.User, error) {
	return q.getUser(ctx, `id = ?`, id)
}

func (q *queries) GetUserByExternalID(ctx context.Context, externalID string) (persistence.User, error) {
	return q.getUser(ctx, `external_id = ?`, externalID)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return q.getUser(ctx, `lower(email) = ?`, normalizeEmail(email))
}

func (q *queries) DeleteUser(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM users WHERE id = ?`, id)
}

const studentColumns = `id, user_id, name, created_at, updated_at`

func (q *queries) CreateStudent(ctx context.Context, student persistence.Student) error {
	_, err := q.exec(ctx, `INSERT INTO students (`+studentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		student.ID, student.UserID, student.Name, formatTime(student.CreatedAt), formatTime(student.UpdatedAt))
	return err
}

func (q *queries) getStudent(ctx context.Context, where string, arg any) (persistence.Student, error) {
	var row studentRow
	if err := q.get(ctx, &row, `SELECT `+studentColumns+` FROM students WHERE `+where, arg); err != nil {
		return persistence.Student{}, err
	}
	return row.model(), nil
}

func (q *queries) GetStudent(ctx context.Context, id string) (persistence.Student, error) {
	return q.getStudent(ctx, `id = ?`, id)
}

func (q *queries) GetStudentByUserID(ctx context.Context, userID string) (persistence.Student, error) {
	return q.getStudent(ctx, `user_id = ?`, userID)
}

func (q *queries) DeleteStudent(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM students WHERE id = ?`, id)
}

const teacherColumns = `id, user_id, name, department, created_at, updated_at`

func (q *queries) CreateTeacher(ctx context.Context, teacher persistence.Teacher) error {
	_, err := q.exec(ctx, `INSERT INTO teachers (`+teacherColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		teacher.ID, teacher.UserID, teacher.Name, nullString(teacher.Department),
		formatTime(teacher.CreatedAt), formatTime(teacher.UpdatedAt))
	return err
}

func (q *queries) getTeacher(ctx context.Context, where string, arg any) (persistence.Teacher, error) {
	var row teacherRow
	if err := q.get(ctx, &row, `SELECT `+teacherColumns+` FROM teachers WHERE `+where, arg); err != nil {
		return persistence.Teacher{}, err
	}
	return row.model(), nil
}

func (q *queries) GetTeacher(ctx context.Context, id string) (persistence.Teacher, error) {
	return q.getTeacher(ctx, `id = ?`, id)
}

func (q *queries) GetTeacherByUserID(ctx context.Context, userID string) (persistence.Teacher, error) {
	return q.getTeacher(ctx, `user_id = ?`, userID)
}

func (q *queries) DeleteTeacher(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM teachers WHERE id = ?`, id)
}
