package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a write collides with a unique constraint.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a CHECK or NOT NULL constraint rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a write references a missing parent row
	// or a delete would orphan dependants.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrUnavailable is returned when the datastore cannot serve the request
	// (connection refused, locked database, cancelled transaction).
	ErrUnavailable = errors.New("persistence: datastore unavailable")
	// ErrBackupUnsupported is returned by stores that cannot produce a snapshot.
	ErrBackupUnsupported = errors.New("persistence: backup not supported by this store")
)
