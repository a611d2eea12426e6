package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/pipeline"
)

// maxUploadBytes bounds a single submission, enough for a handful of
// camera frames.
const maxUploadBytes = 32 << 20

type submitRequest struct {
	TaskID      string   `json:"task_id"`
	Type        string   `json:"type"`
	Images      [][]byte `json:"images"`
	SubjectID   string   `json:"subject_id"`
	SubjectName string   `json:"subject_name"`
	CameraID    string   `json:"camera_id"`
	Location    string   `json:"location"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleSubmitTask accepts a task as JSON (images base64-encoded) or as a
// multipart form with an "images" file field, validates it, and enqueues it.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var req submitRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = parseMultipartSubmit(r)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		s.logger.Warn("rejecting malformed submission", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	if reason := validateSubmit(&req); reason != "" {
		s.logger.Warn("rejecting invalid submission", zap.String("reason", reason))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: reason})
		return
	}

	if req.TaskID == "" {
		req.TaskID = uuid.New().String()
	}

	task := &pipeline.Task{
		ID:          req.TaskID,
		Kind:        pipeline.TaskKind(req.Type),
		Images:      req.Images,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		CameraID:    req.CameraID,
		Location:    req.Location,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.producer.Enqueue(r.Context(), task); err != nil {
		s.logger.Error("failed to enqueue task",
			zap.String("task_id", task.ID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to enqueue task"})
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: task.ID, Status: "queued"})
}

func parseMultipartSubmit(r *http.Request) (submitRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return submitRequest{}, err
	}

	req := submitRequest{
		TaskID:      r.FormValue("task_id"),
		Type:        r.FormValue("type"),
		SubjectID:   r.FormValue("subject_id"),
		SubjectName: r.FormValue("subject_name"),
		CameraID:    r.FormValue("camera_id"),
		Location:    r.FormValue("location"),
	}

	for _, header := range r.MultipartForm.File["images"] {
		file, err := header.Open()
		if err != nil {
			return submitRequest{}, err
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return submitRequest{}, err
		}
		req.Images = append(req.Images, data)
	}
	return req, nil
}

func validateSubmit(req *submitRequest) string {
	switch {
	case req.Type != string(pipeline.KindEnroll) && req.Type != string(pipeline.KindVerify):
		return "type must be \"enroll\" or \"verify\""
	case len(req.Images) == 0:
		return "at least one image is required"
	case req.Type == string(pipeline.KindEnroll) && req.SubjectID == "":
		return "enrollment requires subject_id"
	}
	for _, img := range req.Images {
		if len(img) == 0 {
			return "empty image in payload"
		}
	}
	return ""
}

// handleGetResult returns the terminal outcome for a task, or 404 while the
// task is unknown or still in flight. Callers poll.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	outcome, found, err := s.results.Get(r.Context(), taskID)
	if err != nil {
		s.logger.Error("result lookup failed", zap.String("task_id", taskID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "result store unavailable"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no result for task"})
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

type healthResponse struct {
	Status           string `json:"status"`
	EnrolledSubjects *int   `json:"enrolled_subjects,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.templates != nil {
		if count, err := s.templates.Count(r.Context()); err == nil {
			resp.EnrolledSubjects = &count
		} else {
			s.logger.Warn("template count failed", zap.Error(err))
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
