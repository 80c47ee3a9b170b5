package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/service"
	"github.com/printq/printq/pkg/store"
)

// Uploads are slicer project files; 256 MB covers even large
// multi-plate 3MFs.
const maxUploadBytes = 256 << 20

// Handler serves the queue manager's HTTP API.
type Handler struct {
	service *service.Service
}

// NewHandler creates an API handler over the service façade.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Project routes
	r.HandleFunc("/projects", h.CreateProject).Methods("POST")
	r.HandleFunc("/projects", h.ListProjects).Methods("GET")
	r.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	r.HandleFunc("/projects/{id}", h.DeleteProject).Methods("DELETE")
	r.HandleFunc("/projects/{id}/upload", h.UploadFile).Methods("POST")
	r.HandleFunc("/projects/{id}/plates", h.ListProjectPlates).Methods("GET")

	// Plate routes
	r.HandleFunc("/plates", h.ListPlates).Methods("GET")
	r.HandleFunc("/plates/{id}", h.DeletePlate).Methods("DELETE")
	r.HandleFunc("/plates/{id}/priority", h.SetPlatePriority).Methods("PUT")
	r.HandleFunc("/plates/{id}/quantity", h.SetPlateQuantity).Methods("PUT")

	// Job routes
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}/start", h.StartJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/complete", h.CompleteJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/fail", h.FailJob).Methods("POST")

	// Unavailability windows
	r.HandleFunc("/windows", h.AddWindow).Methods("POST")
	r.HandleFunc("/windows", h.ListWindows).Methods("GET")
	r.HandleFunc("/windows/{id}", h.RemoveWindow).Methods("DELETE")

	// Queue view
	r.HandleFunc("/queue", h.GetQueue).Methods("GET")
	r.HandleFunc("/schedule", h.GetSchedule).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateProject creates an empty project
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Project name is required", http.StatusBadRequest)
		return
	}

	project, err := h.service.CreateProject(req.Name, req.Notes)
	if err != nil {
		log.Printf("Error creating project: %v", err)
		http.Error(w, "Failed to create project", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// ListProjects returns all projects with progress
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": status.Projects,
		"count":    len(status.Projects),
	})
}

// GetProject returns one project
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	project, err := h.service.Store().GetProject(id)
	if errors.Is(err, store.ErrProjectNotFound) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load project", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// DeleteProject removes a project and everything it owns
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deleted, err := h.service.DeleteProject(id)
	if err != nil {
		http.Error(w, "Failed to delete project", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFile accepts a multipart 3MF or gcode upload for a project
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	plates, err := h.service.UploadFile(projectID, header.Filename, content)
	if errors.Is(err, store.ErrProjectNotFound) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Upload failed for %s: %v", header.Filename, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"plates": plates,
		"count":  len(plates),
	})
}

// ListProjectPlates returns the plates of one project
func (h *Handler) ListProjectPlates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.service.Store().GetProject(id); errors.Is(err, store.ErrProjectNotFound) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}

	plates := h.service.Store().GetPlates(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plates": plates,
		"count":  len(plates),
	})
}

// ListPlates returns all plates
func (h *Handler) ListPlates(w http.ResponseWriter, r *http.Request) {
	plates := h.service.Store().GetPlates(r.URL.Query().Get("project_id"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plates": plates,
		"count":  len(plates),
	})
}

// DeletePlate removes a plate, its jobs and extracted files
func (h *Handler) DeletePlate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deleted, err := h.service.DeletePlate(id)
	if err != nil {
		http.Error(w, "Failed to delete plate", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPlatePriority updates a plate's scheduling priority
func (h *Handler) SetPlatePriority(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := h.service.SetPlatePriority(id, req.Priority)
	if err != nil {
		http.Error(w, "Failed to set priority", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetPlateQuantity updates quantity and reconciles queued jobs
func (h *Handler) SetPlateQuantity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := h.service.SetPlateQuantity(id, req.Quantity)
	if errors.Is(err, store.ErrNegativeQuantity) {
		http.Error(w, "Quantity must be non-negative", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Failed to set quantity", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListJobs returns jobs, optionally filtered by plate and status
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	plateID := r.URL.Query().Get("plate_id")
	status := models.JobStatus(r.URL.Query().Get("status"))

	jobs := h.service.Store().GetJobs(plateID, status)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// StartJob transitions a queued job to printing
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ok, err := h.service.StartJob(id)
	if errors.Is(err, service.ErrPrinterBusy) {
		http.Error(w, "Another job is already printing", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "Failed to start job", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Job not found or not queued", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CompleteJob transitions a printing job to completed
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ok, err := h.service.CompleteJob(id)
	if err != nil {
		http.Error(w, "Failed to complete job", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Job not found or not printing", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// FailJob marks a printing job failed and queues a replacement
func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		// The reason is optional; an empty body is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}

	replacement, err := h.service.FailJob(id, req.Reason)
	if err != nil {
		http.Error(w, "Failed to fail job", http.StatusInternalServerError)
		return
	}
	if replacement == nil {
		http.Error(w, "Job not found or not printing", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"replacement": replacement,
	})
}

// AddWindow declares an unavailability window
func (h *Handler) AddWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	window, err := h.service.AddUnavailability(req.Start, req.End)
	if errors.Is(err, store.ErrInvalidWindow) {
		http.Error(w, "Window end must be after start", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Failed to add window", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, window)
}

// ListWindows returns all unavailability windows
func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows := h.service.Store().GetUnavailabilityWindows()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"windows": windows,
		"count":   len(windows),
	})
}

// RemoveWindow deletes an unavailability window
func (h *Handler) RemoveWindow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ok, err := h.service.RemoveUnavailability(id)
	if err != nil {
		http.Error(w, "Failed to remove window", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Window not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQueue returns the full queue view with the projected schedule
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// GetSchedule returns just the projected timeline
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Schedule())
}

// Health returns service health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Store().HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
