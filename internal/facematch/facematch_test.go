package facematch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/testfixtures"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vector := []float32{0.25, -1, 3.5}
	got, err := Decode(Encode(vector))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	for i := range vector {
		if got[i] != vector[i] {
			t.Fatalf("component %d: got %v, want %v", i, got[i], vector[i])
		}
	}
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	same, err := Cosine([]float32{1, 2}, []float32{2, 4})
	if err != nil || math.Abs(same-1) > 1e-9 {
		t.Fatalf("expected 1 for parallel vectors, got %v, %v", same, err)
	}
	orthogonal, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil || math.Abs(orthogonal) > 1e-9 {
		t.Fatalf("expected 0 for orthogonal vectors, got %v, %v", orthogonal, err)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 0}); !errors.Is(err, ErrDimensions) {
		t.Fatalf("expected ErrDimensions, got %v", err)
	}
	if _, err := Cosine([]float32{0, 0}, []float32{1, 0}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
}

func TestValidator(t *testing.T) {
	v := Validator{Dimensions: 3}
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "valid", input: Encode([]float32{1, 0, 0})},
		{name: "short", input: Encode([]float32{1, 0}), wantErr: ErrDimensions},
		{name: "ragged", input: []byte{0, 0, 128}, wantErr: ErrMalformed},
		{name: "zero", input: Encode([]float32{0, 0, 0}), wantErr: ErrDegenerate},
		{name: "nan", input: Encode([]float32{float32(math.NaN()), 1, 1}), wantErr: ErrDegenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEmbedding(tt.input)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func seedFaces(t *testing.T, store persistence.Store, vectors map[string][]float32) testfixtures.Classroom {
	t.Helper()
	room := testfixtures.SeedClassroom(t, store, 10, len(vectors))
	i := 0
	testfixtures.Seed(t, store, func(ctx context.Context, q persistence.Queries) error {
		for _, name := range []string{"ada", "bob", "cy"} {
			vector, ok := vectors[name]
			if !ok {
				continue
			}
			student := room.Students[i]
			i++
			if err := q.UpsertFaceData(ctx, persistence.FaceData{
				ID:        "face-" + name,
				StudentID: student.ID,
				Embedding: Encode(vector),
				Checksum:  name,
				CreatedAt: testfixtures.ReferenceTime(),
				UpdatedAt: testfixtures.ReferenceTime(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return room
}

func TestMatcherMatchFace(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewMemoryStore()
	room := seedFaces(t, store, map[string][]float32{
		"ada": {1, 0, 0},
		"bob": {0, 1, 0},
	})
	matcher := NewMatcher(store, 3, 0.9, nil)

	studentID, ok, err := matcher.MatchFace(ctx, Encode([]float32{0.05, 0.99, 0}))
	if err != nil || !ok || studentID != room.Students[1].ID {
		t.Fatalf("expected bob, got %q %v %v", studentID, ok, err)
	}

	_, ok, err = matcher.MatchFace(ctx, Encode([]float32{0, 0, 1}))
	if err != nil || ok {
		t.Fatalf("expected no match below threshold, got %v %v", ok, err)
	}

	_, _, err = matcher.MatchFace(ctx, Encode([]float32{1, 0}))
	if !errors.Is(err, application.ErrInvalidEmbedding) {
		t.Fatalf("expected ErrInvalidEmbedding for a bad embedding, got %v", err)
	}
}

func TestMatcherDrivesRecognition(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewMemoryStore()
	room := seedFaces(t, store, map[string][]float32{"ada": {0.6, 0.8}})

	services := testfixtures.NewServiceFactory().Build(store, testfixtures.ServiceDeps{
		Matcher:   NewMatcher(store, 2, 0.95, nil),
		Validator: Validator{Dimensions: 2},
	})

	result, err := services.Attendance.RecognizeAndRecord(ctx, Encode([]float32{0.61, 0.79}), room.Session.ID, room.Session.StartTime)
	if err != nil {
		t.Fatalf("RecognizeAndRecord returned error: %v", err)
	}
	if result.StudentID != room.Students[0].ID || result.Outcome != application.OutcomeCreated {
		t.Fatalf("unexpected result %+v", result)
	}

	_, err = services.Attendance.RecognizeAndRecord(ctx, Encode([]float32{-0.8, 0.6}), room.Session.ID, room.Session.StartTime)
	if !errors.Is(err, application.ErrNoFaceMatch) {
		t.Fatalf("expected ErrNoFaceMatch, got %v", err)
	}
}
