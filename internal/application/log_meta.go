package application

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogMeta is the structured payload of a SystemLog entry. It is stored as a
// JSON object whose "kind" field names the concrete type.
type LogMeta interface {
	MetaKind() string
}

// SignInMeta records an identity reconciliation attempt.
type SignInMeta struct {
	Outcome    string `json:"outcome"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	UserID     string `json:"user_id,omitempty"`
	Role       Role   `json:"role,omitempty"`
}

func (SignInMeta) MetaKind() string { return "sign_in" }

// CorrectionMeta records a manual attendance correction.
type CorrectionMeta struct {
	AttendanceID string           `json:"attendance_id"`
	StudentID    string           `json:"student_id"`
	SessionID    string           `json:"session_id"`
	OldStatus    AttendanceStatus `json:"old_status"`
	NewStatus    AttendanceStatus `json:"new_status"`
	OldSource    AttendanceSource `json:"old_source"`
	ActorID      string           `json:"actor_id,omitempty"`
	ObservedAt   time.Time        `json:"observed_at"`
}

func (CorrectionMeta) MetaKind() string { return "attendance_correction" }

// EnrollmentMeta records a face enrollment.
type EnrollmentMeta struct {
	StudentID  string `json:"student_id"`
	Checksum   string `json:"checksum"`
	Replaced   bool   `json:"replaced"`
	ImageCount int    `json:"image_count"`
}

func (EnrollmentMeta) MetaKind() string { return "enrollment" }

// SessionMeta records a session created despite overlapping existing sessions.
type SessionMeta struct {
	SessionID   string   `json:"session_id"`
	ClassID     string   `json:"class_id"`
	OverlapsIDs []string `json:"overlaps"`
}

func (SessionMeta) MetaKind() string { return "session_overlap" }

// RosterMeta records roster and profile changes.
type RosterMeta struct {
	Action    string `json:"action"`
	StudentID string `json:"student_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Cascade   bool   `json:"cascade,omitempty"`
}

func (RosterMeta) MetaKind() string { return "roster" }

// BackupMeta records a backup failure worth surfacing in the system log.
type BackupMeta struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (BackupMeta) MetaKind() string { return "backup" }

// RawMeta is an opaque JSON payload for shapes without a dedicated type.
type RawMeta json.RawMessage

func (RawMeta) MetaKind() string { return "raw" }

// EncodeLogMeta serialises meta with its kind tag. A nil meta encodes to nil.
func EncodeLogMeta(meta LogMeta) (json.RawMessage, error) {
	if meta == nil {
		return nil, nil
	}
	if raw, ok := meta.(RawMeta); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("raw log meta is not valid JSON")
		}
		return json.RawMessage(raw), nil
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode %s meta: %w", meta.MetaKind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s meta: %w", meta.MetaKind(), err)
	}
	fields["kind"], _ = json.Marshal(meta.MetaKind())
	return json.Marshal(fields)
}

// DecodeLogMeta restores the typed meta of a stored entry. Unknown kinds
// and untagged payloads come back as RawMeta.
func DecodeLogMeta(raw json.RawMessage) (LogMeta, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return RawMeta(raw), nil
	}

	var target LogMeta
	switch envelope.Kind {
	case SignInMeta{}.MetaKind():
		var m SignInMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case CorrectionMeta{}.MetaKind():
		var m CorrectionMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case EnrollmentMeta{}.MetaKind():
		var m EnrollmentMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case SessionMeta{}.MetaKind():
		var m SessionMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case RosterMeta{}.MetaKind():
		var m RosterMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case BackupMeta{}.MetaKind():
		var m BackupMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	default:
		target = RawMeta(raw)
	}
	return target, nil
}
