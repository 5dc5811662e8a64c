package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	m := NewMonitor()
	rr := httptest.NewRecorder()
	m.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	m := NewMonitor()
	m.SetModels("drafter-d16", "refiner-d8", 6)
	m.RunStarted()
	m.RunFinished(true)
	m.RunStarted()
	m.RunFinished(false)
	m.RunStarted()

	rr := httptest.NewRecorder()
	m.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	var st Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if st.Runs.Drafter != "drafter-d16" || st.Runs.Refiner != "refiner-d8" {
		t.Errorf("model names = %q/%q", st.Runs.Drafter, st.Runs.Refiner)
	}
	if st.Runs.DraftSteps != 6 {
		t.Errorf("draft steps = %d, want 6", st.Runs.DraftSteps)
	}
	if st.Runs.Completed != 1 || st.Runs.Failed != 1 || st.Runs.InFlight != 1 {
		t.Errorf("run counts = %d/%d/%d, want 1/1/1",
			st.Runs.Completed, st.Runs.Failed, st.Runs.InFlight)
	}
}
