package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/classroom-attendance/internal/persistence"
)

// EnrollmentService binds a single face embedding and its reference images
// to a student.
type EnrollmentService struct {
	store       persistence.Store
	audit       *AuditService
	validator   EmbeddingValidator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewEnrollmentService constructs an enrollment service. A nil validator
// accepts any non-empty embedding.
func NewEnrollmentService(store persistence.Store, audit *AuditService, validator EmbeddingValidator, idGenerator func() string, now func() time.Time) *EnrollmentService {
	return NewEnrollmentServiceWithLogger(store, audit, validator, idGenerator, now, nil)
}

// NewEnrollmentServiceWithLogger constructs an enrollment service with a specified logger.
func NewEnrollmentServiceWithLogger(store persistence.Store, audit *AuditService, validator EmbeddingValidator, idGenerator func() string, now func() time.Time, logger *slog.Logger) *EnrollmentService {
	return &EnrollmentService{
		store:       store,
		audit:       audit,
		validator:   validator,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		logger:      defaultLogger(logger),
	}
}

func (s *EnrollmentService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "EnrollmentService", operation, attrs...)
}

// EmbeddingChecksum returns the hex BLAKE2b-256 digest stored with FaceData.
func EmbeddingChecksum(embedding []byte) string {
	sum := blake2b.Sum256(embedding)
	return hex.EncodeToString(sum[:])
}

// EnrollFace replaces the student's face embedding and appends the source
// images in one transaction. Enrolling the same embedding again keeps the
// stored row, and image references already held for the student are not
// duplicated, so retries are safe.
func (s *EnrollmentService) EnrollFace(ctx context.Context, params EnrollFaceParams) (result EnrollFaceResult, err error) {
	if s == nil {
		err = fmt.Errorf("EnrollmentService is nil")
		return
	}
	params.SourceImages = trimRefs(params.SourceImages)

	logger := s.loggerWith(ctx, "EnrollFace", "student_id", params.StudentID, "image_count", len(params.SourceImages))
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "face enrollment failed", err)
			return
		}
		logger.InfoContext(ctx, "face enrolled", "replaced", result.Replaced, "images_added", len(result.Images))
	}()

	vErr := validateStruct(params)
	if len(params.Embedding) > 0 && s.validator != nil {
		if embErr := s.validator.ValidateEmbedding(params.Embedding); embErr != nil {
			vErr.add("embedding", embErr.Error())
			vErr.Reason = ErrInvalidEmbedding
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	checksum := EmbeddingChecksum(params.Embedding)
	now := s.now().UTC()

	err = runTx(ctx, s.store, "enroll face", func(q persistence.Queries) error {
		result = EnrollFaceResult{}
		if _, getErr := q.GetStudent(ctx, params.StudentID); getErr != nil {
			return missing("student", params.StudentID, getErr)
		}

		current, getErr := q.GetFaceData(ctx, params.StudentID)
		found := getErr == nil
		if getErr != nil && !errors.Is(getErr, persistence.ErrNotFound) {
			return getErr
		}

		if !found || current.Checksum != checksum {
			result.Replaced = found
			if upsertErr := q.UpsertFaceData(ctx, FaceData{
				ID:        s.idGenerator(),
				StudentID: params.StudentID,
				Embedding: params.Embedding,
				Checksum:  checksum,
				CreatedAt: now,
				UpdatedAt: now,
			}); upsertErr != nil {
				return upsertErr
			}
			if current, getErr = q.GetFaceData(ctx, params.StudentID); getErr != nil {
				return getErr
			}
		}
		result.FaceData = current

		held, listErr := q.ListFaceImages(ctx, params.StudentID)
		if listErr != nil {
			return listErr
		}
		known := make(map[string]struct{}, len(held))
		for _, image := range held {
			known[image.ImageRef] = struct{}{}
		}
		for _, ref := range params.SourceImages {
			if _, ok := known[ref]; ok {
				continue
			}
			image := FaceImage{ID: s.idGenerator(), StudentID: params.StudentID, ImageRef: ref, CreatedAt: now, UpdatedAt: now}
			if createErr := q.CreateFaceImage(ctx, image); createErr != nil {
				return createErr
			}
			known[ref] = struct{}{}
			result.Images = append(result.Images, image)
		}
		return nil
	})
	if err != nil {
		result = EnrollFaceResult{}
		return
	}

	s.audit.Log(ctx, LogLevelInfo, "face enrolled", EnrollmentMeta{
		StudentID:  params.StudentID,
		Checksum:   checksum,
		Replaced:   result.Replaced,
		ImageCount: len(result.Images),
	})
	return
}

func trimRefs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, strings.TrimSpace(ref))
	}
	return out
}

// GetFaceData returns the enrolled embedding of a student.
func (s *EnrollmentService) GetFaceData(ctx context.Context, studentID string) (data FaceData, err error) {
	if s == nil {
		err = fmt.Errorf("EnrollmentService is nil")
		return
	}
	err = runView(ctx, s.store, "get face data", func(q persistence.Queries) error {
		var viewErr error
		data, viewErr = q.GetFaceData(ctx, studentID)
		return missing("face data", studentID, viewErr)
	})
	return
}

// ListFaceImages returns the reference images of a student, oldest first.
func (s *EnrollmentService) ListFaceImages(ctx context.Context, studentID string) (images []FaceImage, err error) {
	if s == nil {
		err = fmt.Errorf("EnrollmentService is nil")
		return
	}
	err = runView(ctx, s.store, "list face images", func(q persistence.Queries) error {
		if _, getErr := q.GetStudent(ctx, studentID); getErr != nil {
			return missing("student", studentID, getErr)
		}
		var viewErr error
		images, viewErr = q.ListFaceImages(ctx, studentID)
		return viewErr
	})
	return
}

// DeleteFaceImage removes one reference image. The embedding is untouched.
func (s *EnrollmentService) DeleteFaceImage(ctx context.Context, imageID string) (err error) {
	if s == nil {
		return fmt.Errorf("EnrollmentService is nil")
	}
	err = runTx(ctx, s.store, "delete face image", func(q persistence.Queries) error {
		return missing("face image", imageID, q.DeleteFaceImage(ctx, imageID))
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "DeleteFaceImage", "image_id", imageID), "failed to delete face image", err)
	}
	return
}

// RemoveFaceData withdraws a student's enrollment. Reference images are kept
// for re-enrollment.
func (s *EnrollmentService) RemoveFaceData(ctx context.Context, studentID string) (err error) {
	if s == nil {
		return fmt.Errorf("EnrollmentService is nil")
	}
	logger := s.loggerWith(ctx, "RemoveFaceData", "student_id", studentID)
	err = runTx(ctx, s.store, "remove face data", func(q persistence.Queries) error {
		return missing("face data", studentID, q.DeleteFaceData(ctx, studentID))
	})
	if err != nil {
		logFailure(ctx, logger, "failed to remove face data", err)
		return
	}
	logger.InfoContext(ctx, "face data removed")
	return
}
