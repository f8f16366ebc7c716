// Package facematch holds the reference embedding codec, validator and
// cosine-similarity matcher behind the application's face collaborators.
//
// An embedding is a little-endian float32 vector. Recognition models are
// external; this package only compares the vectors they produce.
package facematch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/logging"
	"github.com/example/classroom-attendance/internal/persistence"
)

var (
	// ErrMalformed is returned for byte slices that are not a float32 vector.
	ErrMalformed = errors.New("facematch: malformed embedding")
	// ErrDimensions is returned when a vector has the wrong length.
	ErrDimensions = errors.New("facematch: wrong embedding dimensions")
	// ErrDegenerate is returned for zero, NaN or infinite vectors.
	ErrDegenerate = errors.New("facematch: degenerate embedding")
)

// Encode serialises a vector in the stored embedding format.
func Encode(vector []float32) []byte {
	out := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Decode parses a stored embedding.
func Decode(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}

// norm returns the Euclidean length of v, or an error for vectors no
// similarity can be computed from.
func norm(v []float32) (float64, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, ErrDegenerate
		}
		sum += f * f
	}
	if sum == 0 {
		return 0, ErrDegenerate
	}
	return math.Sqrt(sum), nil
}

// Cosine returns the cosine similarity of two equally sized vectors.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensions, len(a), len(b))
	}
	na, err := norm(a)
	if err != nil {
		return 0, err
	}
	nb, err := norm(b)
	if err != nil {
		return 0, err
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb), nil
}

// Validator checks embeddings before enrollment.
type Validator struct {
	// Dimensions is the expected vector length. Zero accepts any length.
	Dimensions int
}

// ValidateEmbedding implements application.EmbeddingValidator.
func (v Validator) ValidateEmbedding(embedding []byte) error {
	vector, err := Decode(embedding)
	if err != nil {
		return err
	}
	if v.Dimensions > 0 && len(vector) != v.Dimensions {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensions, v.Dimensions, len(vector))
	}
	if _, err := norm(vector); err != nil {
		return err
	}
	return nil
}

// Matcher finds the enrolled student closest to a captured embedding.
type Matcher struct {
	store     persistence.Store
	validator Validator
	threshold float64
	logger    *slog.Logger
}

// NewMatcher constructs a matcher over the enrolled face data in store.
// Matches below threshold are reported as no match.
func NewMatcher(store persistence.Store, dimensions int, threshold float64, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		store:     store,
		validator: Validator{Dimensions: dimensions},
		threshold: threshold,
		logger:    logger.With("component", "facematch"),
	}
}

// MatchFace implements application.FaceMatcher. A malformed embedding is a
// validation failure; stored vectors that cannot be decoded are skipped.
func (m *Matcher) MatchFace(ctx context.Context, embedding []byte) (string, bool, error) {
	if err := m.validator.ValidateEmbedding(embedding); err != nil {
		vErr := &application.ValidationError{Reason: application.ErrInvalidEmbedding}
		vErr.FieldErrors = map[string]string{"embedding": err.Error()}
		return "", false, vErr
	}
	query, _ := Decode(embedding)

	var enrolled []persistence.FaceData
	err := m.store.View(ctx, func(q persistence.Queries) error {
		var viewErr error
		enrolled, viewErr = q.ListFaceData(ctx)
		return viewErr
	})
	if err != nil {
		return "", false, fmt.Errorf("list face data: %w", err)
	}

	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = m.logger
	}

	bestID, bestScore := "", -1.0
	for _, data := range enrolled {
		candidate, decodeErr := Decode(data.Embedding)
		if decodeErr != nil {
			logger.WarnContext(ctx, "skipping undecodable embedding", "student_id", data.StudentID, "error", decodeErr)
			continue
		}
		score, cosErr := Cosine(query, candidate)
		if cosErr != nil {
			logger.DebugContext(ctx, "skipping incomparable embedding", "student_id", data.StudentID, "error", cosErr)
			continue
		}
		if score > bestScore || (score == bestScore && data.StudentID < bestID) {
			bestID, bestScore = data.StudentID, score
		}
	}

	if bestID == "" || bestScore < m.threshold {
		logger.DebugContext(ctx, "no face above threshold", "candidates", len(enrolled), "best_score", bestScore)
		return "", false, nil
	}
	return bestID, true, nil
}

var (
	_ application.FaceMatcher        = (*Matcher)(nil)
	_ application.EmbeddingValidator = Validator{}
)
