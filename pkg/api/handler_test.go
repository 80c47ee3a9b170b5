package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/printq/printq/pkg/api"
	"github.com/printq/printq/pkg/coordinator"
	"github.com/printq/printq/pkg/files"
	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/service"
	"github.com/printq/printq/pkg/store"
)

func newTestRouter(t *testing.T) (*mux.Router, store.Store) {
	t.Helper()
	st, err := store.NewSnapshotStore("")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	fh, err := files.NewHandler(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file handler: %v", err)
	}
	svc := service.New(st, fh, coordinator.New(st, nil))

	router := mux.NewRouter()
	api.NewHandler(svc).RegisterRoutes(router)
	return router, st
}

func doJSON(t *testing.T, router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createProject(t *testing.T, router *mux.Router, name string) models.Project {
	t.Helper()
	w := doJSON(t, router, "POST", "/projects", `{"name":"`+name+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Response: %s", w.Code, w.Body.String())
	}
	var project models.Project
	if err := json.Unmarshal(w.Body.Bytes(), &project); err != nil {
		t.Fatalf("Failed to parse project: %v", err)
	}
	return project
}

func uploadGcode(t *testing.T, router *mux.Router, projectID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/projects/"+projectID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProjectLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	project := createProject(t, router, "brackets")

	w := doJSON(t, router, "GET", "/projects/"+project.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, router, "DELETE", "/projects/"+project.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/projects/"+project.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/projects", `{"notes":"no name"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/projects", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUploadCreatesPlatesAndJobs(t *testing.T) {
	router, st := newTestRouter(t)
	project := createProject(t, router, "p")

	w := uploadGcode(t, router, project.ID, "bracket.gcode", ";TIME:3600\nG28\n")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Response: %s", w.Code, w.Body.String())
	}

	var response struct {
		Plates []models.Plate `json:"plates"`
		Count  int            `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Count != 1 {
		t.Fatalf("Expected 1 plate, got %d", response.Count)
	}
	if response.Plates[0].EstimatedDurationSeconds != 3600 {
		t.Errorf("Expected 3600s estimate, got %d", response.Plates[0].EstimatedDurationSeconds)
	}

	if jobs := st.GetQueuedJobs(); len(jobs) != 1 {
		t.Errorf("Expected 1 queued job, got %d", len(jobs))
	}
}

func TestUploadToMissingProject(t *testing.T) {
	router, _ := newTestRouter(t)

	w := uploadGcode(t, router, "missing", "bracket.gcode", ";TIME:60\n")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestUploadUnparseableFile(t *testing.T) {
	router, _ := newTestRouter(t)
	project := createProject(t, router, "p")

	w := uploadGcode(t, router, project.ID, "broken.3mf", "not a zip")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d. Response: %s", w.Code, w.Body.String())
	}
}

func TestJobCommands(t *testing.T) {
	router, st := newTestRouter(t)
	project := createProject(t, router, "p")
	uploadGcode(t, router, project.ID, "a.gcode", ";TIME:60\n")
	uploadGcode(t, router, project.ID, "b.gcode", ";TIME:60\n")

	jobs := st.GetQueuedJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 queued jobs, got %d", len(jobs))
	}

	w := doJSON(t, router, "POST", "/jobs/"+jobs[0].ID+"/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
	}

	// A second start conflicts while the first is printing.
	w = doJSON(t, router, "POST", "/jobs/"+jobs[1].ID+"/start", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	// Fail the printing job; the response carries the replacement.
	w = doJSON(t, router, "POST", "/jobs/"+jobs[0].ID+"/fail", `{"reason":"jam"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
	}
	var failResp struct {
		Replacement models.Job `json:"replacement"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &failResp); err != nil {
		t.Fatalf("Failed to parse fail response: %v", err)
	}
	if failResp.Replacement.Status != models.JobStatusQueued {
		t.Errorf("Expected queued replacement, got %s", failResp.Replacement.Status)
	}

	// Now the other job can start and complete.
	w = doJSON(t, router, "POST", "/jobs/"+jobs[1].ID+"/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, router, "POST", "/jobs/"+jobs[1].ID+"/complete", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Completing again conflicts.
	w = doJSON(t, router, "POST", "/jobs/"+jobs[1].ID+"/complete", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestWindowEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/windows",
		`{"start":"2026-03-02T22:00:00Z","end":"2026-03-03T07:00:00Z"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Response: %s", w.Code, w.Body.String())
	}
	var window models.UnavailabilityWindow
	if err := json.Unmarshal(w.Body.Bytes(), &window); err != nil {
		t.Fatalf("Failed to parse window: %v", err)
	}

	// End before start is rejected.
	w = doJSON(t, router, "POST", "/windows",
		`{"start":"2026-03-03T07:00:00Z","end":"2026-03-02T22:00:00Z"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = doJSON(t, router, "DELETE", "/windows/"+window.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = doJSON(t, router, "DELETE", "/windows/"+window.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestQueueView(t *testing.T) {
	router, _ := newTestRouter(t)
	project := createProject(t, router, "p")
	uploadGcode(t, router, project.ID, "bracket.gcode", ";TIME:3600\n")

	w := doJSON(t, router, "GET", "/queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var status service.QueueStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse queue view: %v", err)
	}
	if len(status.Projects) != 1 || status.Projects[0].TotalJobs != 1 {
		t.Errorf("Unexpected project progress: %+v", status.Projects)
	}
	if len(status.Schedule) != 1 {
		t.Errorf("Expected 1 scheduled job, got %d", len(status.Schedule))
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
