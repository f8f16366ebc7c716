package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestRecorderExposesCounters(t *testing.T) {
	r := New()
	r.AttendanceRecorded("CREATED", "FACE_MATCH")
	r.AttendanceRecorded("CREATED", "FACE_MATCH")
	r.AttendanceRecorded("CORRECTED", "MANUAL")
	r.AttendanceRejected("out_of_window")
	r.SignIn("not_whitelisted")
	r.AuditWriteFailed("system_log")
	r.BackupRecorded("SKIPPED")

	body := scrape(t, r)
	for _, want := range []string{
		`attendance_outcomes_total{outcome="CREATED",source="FACE_MATCH"} 2`,
		`attendance_outcomes_total{outcome="CORRECTED",source="MANUAL"} 1`,
		`attendance_rejections_total{reason="out_of_window"} 1`,
		`identity_sign_ins_total{result="not_whitelisted"} 1`,
		`audit_write_failures_total{kind="system_log"} 1`,
		`backups_total{status="SKIPPED"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	first, second := New(), New()
	first.SignIn("created")

	if strings.Contains(scrape(t, second), `identity_sign_ins_total{result="created"}`) {
		t.Fatalf("recorders must not share a registry")
	}
}
