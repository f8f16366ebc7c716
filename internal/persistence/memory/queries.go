package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/example/classroom-attendance/internal/persistence"
)

type queries struct {
	st       *state
	readOnly bool
}

func (q *queries) writable() error {
	if q.readOnly {
		return errReadOnly
	}
	return nil
}

// --- WhitelistRepository implementation ---

func (q *queries) CreateWhitelistEntry(_ context.Context, entry persistence.WhitelistEntry) error {
	if err := q.writable(); err != nil {
		return err
	}
	key := strings.ToLower(entry.Email)
	if _, ok := q.st.whitelist[key]; ok {
		return fmt.Errorf("%w: whitelist entry %s", persistence.ErrDuplicate, key)
	}
	entry.Email = key
	q.st.whitelist[key] = entry
	return nil
}

func (q *queries) UpdateWhitelistEntry(_ context.Context, entry persistence.WhitelistEntry) error {
	if err := q.writable(); err != nil {
		return err
	}
	key := strings.ToLower(entry.Email)
	if _, ok := q.st.whitelist[key]; !ok {
		return persistence.ErrNotFound
	}
	entry.Email = key
	q.st.whitelist[key] = entry
	return nil
}

func (q *queries) GetWhitelistEntry(_ context.Context, email string) (persistence.WhitelistEntry, error) {
	entry, ok := q.st.whitelist[strings.ToLower(email)]
	if !ok {
		return persistence.WhitelistEntry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (q *queries) ListWhitelistEntries(context.Context) ([]persistence.WhitelistEntry, error) {
	entries := make([]persistence.WhitelistEntry, 0, len(q.st.whitelist))
	for _, entry := range q.st.whitelist {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Email < entries[j].Email })
	return entries, nil
}

func (q *queries) DeleteWhitelistEntry(_ context.Context, email string) error {
	if err := q.writable(); err != nil {
		return err
	}
	key := strings.ToLower(email)
	if _, ok := q.st.whitelist[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(q.st.whitelist, key)
	return nil
}

// --- UserRepository implementation ---

func (q *queries) CreateUser(_ context.Context, user persistence.User) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.users[user.ID]; ok {
		return fmt.Errorf("%w: user %s", persistence.ErrDuplicate, user.ID)
	}
	for _, existing := range q.st.users {
		if existing.ExternalID == user.ExternalID {
			return fmt.Errorf("%w: external identity %s", persistence.ErrDuplicate, user.ExternalID)
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("%w: email %s", persistence.ErrDuplicate, user.Email)
		}
	}
	q.st.users[user.ID] = user
	return nil
}

func (q *queries) GetUser(_ context.Context, id string) (persistence.User, error) {
	user, ok := q.st.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

func (q *queries) GetUserByExternalID(_ context.Context, externalID string) (persistence.User, error) {
	for _, user := range q.st.users {
		if user.ExternalID == externalID {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

func (q *queries) GetUserByEmail(_ context.Context, email string) (persistence.User, error) {
	for _, user := range q.st.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

func (q *queries) DeleteUser(_ context.Context, id string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.users[id]; !ok {
		return persistence.ErrNotFound
	}
	for _, student := range q.st.students {
		if student.UserID == id {
			return fmt.Errorf("%w: user %s owns student %s", persistence.ErrForeignKeyViolation, id, student.ID)
		}
	}
	for _, teacher := range q.st.teachers {
		if teacher.UserID == id {
			return fmt.Errorf("%w: user %s owns teacher %s", persistence.ErrForeignKeyViolation, id, teacher.ID)
		}
	}
	delete(q.st.users, id)
	return nil
}

// --- ProfileRepository implementation ---

func (q *queries) CreateStudent(_ context.Context, student persistence.Student) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.users[student.UserID]; !ok {
		return fmt.Errorf("%w: user %s", persistence.ErrForeignKeyViolation, student.UserID)
	}
	if _, ok := q.st.students[student.ID]; ok {
		return fmt.Errorf("%w: student %s", persistence.ErrDuplicate, student.ID)
	}
	for _, existing := range q.st.students {
		if existing.UserID == student.UserID {
			return fmt.Errorf("%w: student for user %s", persistence.ErrDuplicate, student.UserID)
		}
	}
	q.st.students[student.ID] = student
	return nil
}

func (q *queries) GetStudent(_ context.Context, id string) (persistence.Student, error) {
	student, ok := q.st.students[id]
	if !ok {
		return persistence.Student{}, persistence.ErrNotFound
	}
	return student, nil
}

func (q *queries) GetStudentByUserID(_ context.Context, userID string) (persistence.Student, error) {
	for _, student := range q.st.students {
		if student.UserID == userID {
			return student, nil
		}
	}
	return persistence.Student{}, persistence.ErrNotFound
}

func (q *queries) DeleteStudent(_ context.Context, id string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.students[id]; !ok {
		return persistence.ErrNotFound
	}
	if _, ok := q.st.faceData[id]; ok {
		return fmt.Errorf("%w: student %s has face data", persistence.ErrForeignKeyViolation, id)
	}
	for _, image := range q.st.faceImages {
		if image.StudentID == id {
			return fmt.Errorf("%w: student %s has face images", persistence.ErrForeignKeyViolation, id)
		}
	}
	for key := range q.st.attendance {
		if key.studentID == id {
			return fmt.Errorf("%w: student %s has attendance", persistence.ErrForeignKeyViolation, id)
		}
	}
	for _, members := range q.st.classStudents {
		if _, ok := members[id]; ok {
			return fmt.Errorf("%w: student %s is on a class roster", persistence.ErrForeignKeyViolation, id)
		}
	}
	for _, members := range q.st.sessionStudents {
		if _, ok := members[id]; ok {
			return fmt.Errorf("%w: student %s is on a session roster", persistence.ErrForeignKeyViolation, id)
		}
	}
	delete(q.st.students, id)
	return nil
}

func (q *queries) CreateTeacher(_ context.Context, teacher persistence.Teacher) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.users[teacher.UserID]; !ok {
		return fmt.Errorf("%w: user %s", persistence.ErrForeignKeyViolation, teacher.UserID)
	}
	if _, ok := q.st.teachers[teacher.ID]; ok {
		return fmt.Errorf("%w: teacher %s", persistence.ErrDuplicate, teacher.ID)
	}
	for _, existing := range q.st.teachers {
		if existing.UserID == teacher.UserID {
			return fmt.Errorf("%w: teacher for user %s", persistence.ErrDuplicate, teacher.UserID)
		}
	}
	q.st.teachers[teacher.ID] = teacher
	return nil
}

func (q *queries) GetTeacher(_ context.Context, id string) (persistence.Teacher, error) {
	teacher, ok := q.st.teachers[id]
	if !ok {
		return persistence.Teacher{}, persistence.ErrNotFound
	}
	return teacher, nil
}

func (q *queries) GetTeacherByUserID(_ context.Context, userID string) (persistence.Teacher, error) {
	for _, teacher := range q.st.teachers {
		if teacher.UserID == userID {
			return teacher, nil
		}
	}
	return persistence.Teacher{}, persistence.ErrNotFound
}

func (q *queries) DeleteTeacher(_ context.Context, id string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.teachers[id]; !ok {
		return persistence.ErrNotFound
	}
	for _, class := range q.st.classes {
		if class.TeacherID == id {
			return fmt.Errorf("%w: teacher %s owns class %s", persistence.ErrForeignKeyViolation, id, class.ID)
		}
	}
	delete(q.st.teachers, id)
	return nil
}

// --- ClassRepository implementation ---

func (q *queries) CreateClass(_ context.Context, class persistence.Class) error {
	if err := q.writable(); err != nil {
		return err
	}
	if class.Capacity <= 0 {
		return fmt.Errorf("%w: class capacity must be positive", persistence.ErrConstraintViolation)
	}
	if _, ok := q.st.teachers[class.TeacherID]; !ok {
		return fmt.Errorf("%w: teacher %s", persistence.ErrForeignKeyViolation, class.TeacherID)
	}
	if _, ok := q.st.classes[class.ID]; ok {
		return fmt.Errorf("%w: class %s", persistence.ErrDuplicate, class.ID)
	}
	q.st.classes[class.ID] = class
	return nil
}

func (q *queries) UpdateClass(_ context.Context, class persistence.Class) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.classes[class.ID]; !ok {
		return persistence.ErrNotFound
	}
	if class.Capacity <= 0 {
		return fmt.Errorf("%w: class capacity must be positive", persistence.ErrConstraintViolation)
	}
	if _, ok := q.st.teachers[class.TeacherID]; !ok {
		return fmt.Errorf("%w: teacher %s", persistence.ErrForeignKeyViolation, class.TeacherID)
	}
	q.st.classes[class.ID] = class
	return nil
}

func (q *queries) GetClass(_ context.Context, id string) (persistence.Class, error) {
	class, ok := q.st.classes[id]
	if !ok {
		return persistence.Class{}, persistence.ErrNotFound
	}
	return class, nil
}

// LockClass is GetClass; the store-wide transaction lock already serialises writers.
func (q *queries) LockClass(ctx context.Context, id string) (persistence.Class, error) {
	return q.GetClass(ctx, id)
}

func (q *queries) ListClasses(_ context.Context, teacherID string) ([]persistence.Class, error) {
	classes := make([]persistence.Class, 0, len(q.st.classes))
	for _, class := range q.st.classes {
		if teacherID != "" && class.TeacherID != teacherID {
			continue
		}
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Name == classes[j].Name {
			return classes[i].ID < classes[j].ID
		}
		return classes[i].Name < classes[j].Name
	})
	return classes, nil
}

func (q *queries) CountClassesForTeacher(_ context.Context, teacherID string) (int, error) {
	count := 0
	for _, class := range q.st.classes {
		if class.TeacherID == teacherID {
			count++
		}
	}
	return count, nil
}

func (q *queries) AddClassStudent(_ context.Context, classID, studentID string) (bool, error) {
	if err := q.writable(); err != nil {
		return false, err
	}
	if _, ok := q.st.classes[classID]; !ok {
		return false, fmt.Errorf("%w: class %s", persistence.ErrForeignKeyViolation, classID)
	}
	if _, ok := q.st.students[studentID]; !ok {
		return false, fmt.Errorf("%w: student %s", persistence.ErrForeignKeyViolation, studentID)
	}
	return addMember(q.st.classStudents, classID, studentID), nil
}

func (q *queries) RemoveClassStudent(_ context.Context, classID, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if !removeMember(q.st.classStudents, classID, studentID) {
		return persistence.ErrNotFound
	}
	return nil
}

func (q *queries) IsClassStudent(_ context.Context, classID, studentID string) (bool, error) {
	_, ok := q.st.classStudents[classID][studentID]
	return ok, nil
}

func (q *queries) CountClassStudents(_ context.Context, classID string) (int, error) {
	return len(q.st.classStudents[classID]), nil
}

func (q *queries) ListClassStudents(_ context.Context, classID string) ([]persistence.Student, error) {
	return q.membersOf(q.st.classStudents[classID]), nil
}

func (q *queries) RemoveStudentFromAllClasses(_ context.Context, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	for _, members := range q.st.classStudents {
		delete(members, studentID)
	}
	return nil
}

// --- SessionRepository implementation ---

func (q *queries) CreateSession(_ context.Context, session persistence.Session) error {
	if err := q.writable(); err != nil {
		return err
	}
	if !session.EndTime.After(session.StartTime) {
		return fmt.Errorf("%w: session end must follow start", persistence.ErrConstraintViolation)
	}
	if _, ok := q.st.classes[session.ClassID]; !ok {
		return fmt.Errorf("%w: class %s", persistence.ErrForeignKeyViolation, session.ClassID)
	}
	if _, ok := q.st.sessions[session.ID]; ok {
		return fmt.Errorf("%w: session %s", persistence.ErrDuplicate, session.ID)
	}
	q.st.sessions[session.ID] = session
	return nil
}

func (q *queries) GetSession(_ context.Context, id string) (persistence.Session, error) {
	session, ok := q.st.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (q *queries) ListSessions(_ context.Context, classID string) ([]persistence.Session, error) {
	sessions := make([]persistence.Session, 0)
	for _, session := range q.st.sessions {
		if classID != "" && session.ClassID != classID {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

func (q *queries) DeleteSession(_ context.Context, id string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	for key := range q.st.attendance {
		if key.sessionID == id {
			return fmt.Errorf("%w: session %s has attendance", persistence.ErrForeignKeyViolation, id)
		}
	}
	delete(q.st.sessionStudents, id)
	delete(q.st.sessions, id)
	return nil
}

func (q *queries) AddSessionStudent(_ context.Context, sessionID, studentID string) (bool, error) {
	if err := q.writable(); err != nil {
		return false, err
	}
	if _, ok := q.st.sessions[sessionID]; !ok {
		return false, fmt.Errorf("%w: session %s", persistence.ErrForeignKeyViolation, sessionID)
	}
	if _, ok := q.st.students[studentID]; !ok {
		return false, fmt.Errorf("%w: student %s", persistence.ErrForeignKeyViolation, studentID)
	}
	return addMember(q.st.sessionStudents, sessionID, studentID), nil
}

func (q *queries) RemoveSessionStudent(_ context.Context, sessionID, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if !removeMember(q.st.sessionStudents, sessionID, studentID) {
		return persistence.ErrNotFound
	}
	return nil
}

func (q *queries) IsSessionStudent(_ context.Context, sessionID, studentID string) (bool, error) {
	_, ok := q.st.sessionStudents[sessionID][studentID]
	return ok, nil
}

func (q *queries) CountSessionStudents(_ context.Context, sessionID string) (int, error) {
	return len(q.st.sessionStudents[sessionID]), nil
}

func (q *queries) ListSessionStudents(_ context.Context, sessionID string) ([]persistence.Student, error) {
	return q.membersOf(q.st.sessionStudents[sessionID]), nil
}

func (q *queries) RemoveStudentFromAllSessions(_ context.Context, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	for _, members := range q.st.sessionStudents {
		delete(members, studentID)
	}
	return nil
}

// --- EnrollmentRepository implementation ---

func (q *queries) UpsertFaceData(_ context.Context, data persistence.FaceData) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.students[data.StudentID]; !ok {
		return fmt.Errorf("%w: student %s", persistence.ErrForeignKeyViolation, data.StudentID)
	}
	if existing, ok := q.st.faceData[data.StudentID]; ok {
		data.ID = existing.ID
		data.CreatedAt = existing.CreatedAt
	}
	data.Embedding = bytes.Clone(data.Embedding)
	q.st.faceData[data.StudentID] = data
	return nil
}

func (q *queries) GetFaceData(_ context.Context, studentID string) (persistence.FaceData, error) {
	data, ok := q.st.faceData[studentID]
	if !ok {
		return persistence.FaceData{}, persistence.ErrNotFound
	}
	data.Embedding = bytes.Clone(data.Embedding)
	return data, nil
}

func (q *queries) ListFaceData(context.Context) ([]persistence.FaceData, error) {
	out := make([]persistence.FaceData, 0, len(q.st.faceData))
	for _, data := range q.st.faceData {
		data.Embedding = bytes.Clone(data.Embedding)
		out = append(out, data)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (q *queries) DeleteFaceData(_ context.Context, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.faceData[studentID]; !ok {
		return persistence.ErrNotFound
	}
	delete(q.st.faceData, studentID)
	return nil
}

func (q *queries) CreateFaceImage(_ context.Context, image persistence.FaceImage) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.students[image.StudentID]; !ok {
		return fmt.Errorf("%w: student %s", persistence.ErrForeignKeyViolation, image.StudentID)
	}
	if _, ok := q.st.faceImages[image.ID]; ok {
		return fmt.Errorf("%w: face image %s", persistence.ErrDuplicate, image.ID)
	}
	q.st.faceImages[image.ID] = image
	return nil
}

func (q *queries) ListFaceImages(_ context.Context, studentID string) ([]persistence.FaceImage, error) {
	out := make([]persistence.FaceImage, 0)
	for _, image := range q.st.faceImages {
		if image.StudentID == studentID {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (q *queries) DeleteFaceImage(_ context.Context, id string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.faceImages[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(q.st.faceImages, id)
	return nil
}

func (q *queries) DeleteFaceImagesForStudent(_ context.Context, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	for id, image := range q.st.faceImages {
		if image.StudentID == studentID {
			delete(q.st.faceImages, id)
		}
	}
	return nil
}

// --- AttendanceRepository implementation ---

func (q *queries) InsertAttendance(_ context.Context, attendance persistence.Attendance) (bool, error) {
	if err := q.writable(); err != nil {
		return false, err
	}
	if _, ok := q.st.students[attendance.StudentID]; !ok {
		return false, fmt.Errorf("%w: student %s", persistence.ErrForeignKeyViolation, attendance.StudentID)
	}
	if _, ok := q.st.sessions[attendance.SessionID]; !ok {
		return false, fmt.Errorf("%w: session %s", persistence.ErrForeignKeyViolation, attendance.SessionID)
	}
	key := attendanceKey{studentID: attendance.StudentID, sessionID: attendance.SessionID}
	if _, ok := q.st.attendance[key]; ok {
		return false, nil
	}
	q.st.attendance[key] = attendance
	return true, nil
}

func (q *queries) LockAttendance(ctx context.Context, studentID, sessionID string) (persistence.Attendance, error) {
	return q.GetAttendance(ctx, studentID, sessionID)
}

func (q *queries) GetAttendance(_ context.Context, studentID, sessionID string) (persistence.Attendance, error) {
	attendance, ok := q.st.attendance[attendanceKey{studentID: studentID, sessionID: sessionID}]
	if !ok {
		return persistence.Attendance{}, persistence.ErrNotFound
	}
	return attendance, nil
}

func (q *queries) UpdateAttendance(_ context.Context, attendance persistence.Attendance) error {
	if err := q.writable(); err != nil {
		return err
	}
	key := attendanceKey{studentID: attendance.StudentID, sessionID: attendance.SessionID}
	existing, ok := q.st.attendance[key]
	if !ok || existing.ID != attendance.ID {
		return persistence.ErrNotFound
	}
	q.st.attendance[key] = attendance
	return nil
}

func (q *queries) ListAttendanceBySession(_ context.Context, sessionID string) ([]persistence.Attendance, error) {
	return q.filterAttendance(func(key attendanceKey) bool { return key.sessionID == sessionID }), nil
}

func (q *queries) ListAttendanceByStudent(_ context.Context, studentID string) ([]persistence.Attendance, error) {
	return q.filterAttendance(func(key attendanceKey) bool { return key.studentID == studentID }), nil
}

func (q *queries) CountAttendanceBySession(_ context.Context, sessionID string) (int, error) {
	count := 0
	for key := range q.st.attendance {
		if key.sessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (q *queries) DeleteAttendanceForStudent(_ context.Context, studentID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	for key := range q.st.attendance {
		if key.studentID == studentID {
			delete(q.st.attendance, key)
		}
	}
	return nil
}

func (q *queries) DeleteAttendanceForSession(_ context.Context, sessionID string) error {
	if err := q.writable(); err != nil {
		return err
	}
	for key := range q.st.attendance {
		if key.sessionID == sessionID {
			delete(q.st.attendance, key)
		}
	}
	return nil
}

// --- AuditRepository implementation ---

func (q *queries) AppendSystemLog(_ context.Context, entry persistence.SystemLog) error {
	if err := q.writable(); err != nil {
		return err
	}
	entry.Meta = bytes.Clone(entry.Meta)
	q.st.systemLogs = append(q.st.systemLogs, entry)
	return nil
}

func (q *queries) ListSystemLogs(_ context.Context, filter persistence.SystemLogFilter) ([]persistence.SystemLog, error) {
	out := make([]persistence.SystemLog, 0)
	for i := len(q.st.systemLogs) - 1; i >= 0; i-- {
		entry := q.st.systemLogs[i]
		if filter.Level != "" && entry.Level != filter.Level {
			continue
		}
		if filter.Since != nil && entry.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Before != nil && !entry.CreatedAt.Before(*filter.Before) {
			continue
		}
		entry.Meta = bytes.Clone(entry.Meta)
		out = append(out, entry)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (q *queries) AppendBackupLog(_ context.Context, entry persistence.BackupLog) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.st.backupLogs = append(q.st.backupLogs, entry)
	return nil
}

func (q *queries) ListBackupLogs(_ context.Context, limit int) ([]persistence.BackupLog, error) {
	out := slices.Clone(q.st.backupLogs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SettingRepository implementation ---

func (q *queries) UpsertSetting(_ context.Context, setting persistence.SystemSetting) error {
	if err := q.writable(); err != nil {
		return err
	}
	setting.Value = bytes.Clone(setting.Value)
	q.st.settings[setting.Key] = setting
	return nil
}

func (q *queries) GetSetting(_ context.Context, key string) (persistence.SystemSetting, error) {
	setting, ok := q.st.settings[key]
	if !ok {
		return persistence.SystemSetting{}, persistence.ErrNotFound
	}
	setting.Value = bytes.Clone(setting.Value)
	return setting, nil
}

func (q *queries) ListSettings(context.Context) ([]persistence.SystemSetting, error) {
	out := make([]persistence.SystemSetting, 0, len(q.st.settings))
	for _, setting := range q.st.settings {
		setting.Value = bytes.Clone(setting.Value)
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (q *queries) DeleteSetting(_ context.Context, key string) error {
	if err := q.writable(); err != nil {
		return err
	}
	if _, ok := q.st.settings[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(q.st.settings, key)
	return nil
}

// --- helpers ---

func addMember(index map[string]map[string]struct{}, key, member string) bool {
	members, ok := index[key]
	if !ok {
		members = make(map[string]struct{})
		index[key] = members
	}
	if _, exists := members[member]; exists {
		return false
	}
	members[member] = struct{}{}
	return true
}

func removeMember(index map[string]map[string]struct{}, key, member string) bool {
	members, ok := index[key]
	if !ok {
		return false
	}
	if _, exists := members[member]; !exists {
		return false
	}
	delete(members, member)
	return true
}

func (q *queries) membersOf(members map[string]struct{}) []persistence.Student {
	students := make([]persistence.Student, 0, len(members))
	for id := range members {
		if student, ok := q.st.students[id]; ok {
			students = append(students, student)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name == students[j].Name {
			return students[i].ID < students[j].ID
		}
		return students[i].Name < students[j].Name
	})
	return students
}

func (q *queries) filterAttendance(match func(attendanceKey) bool) []persistence.Attendance {
	out := make([]persistence.Attendance, 0)
	for key, attendance := range q.st.attendance {
		if match(key) {
			out = append(out, attendance)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
