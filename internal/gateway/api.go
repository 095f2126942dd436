package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/secrethound/secrethound/internal/queue"
	"github.com/secrethound/secrethound/models"
)

// localArchiveLimit bounds uploaded archives (the queue item owns the bytes).
const localArchiveLimit = 512 << 20

// requireAPIKey enforces the X-API-Key header on every route with a
// constant-time comparison.
func (gw *Gateway) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(gw.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// scanResponse is the ingress reply for all three scan endpoints.
type scanResponse struct {
	Status  string `json:"status"`
	RefType string `json:"RefType,omitempty"`
	Ref     string `json:"Ref,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Message string `json:"message,omitempty"`
}

func validateRequest(req *models.ScanRequest) string {
	switch {
	case req.ProjectName == "":
		return "ProjectName is required"
	case req.RepoUrl == "":
		return "RepoUrl is required"
	case !models.ValidRefType(req.RefType):
		return fmt.Sprintf("RefType must be branch, tag or commit, got %q", req.RefType)
	case req.Ref == "":
		return "Ref is required"
	case req.CallbackUrl == "":
		return "CallbackUrl is required"
	}
	return ""
}

// resolve validates the ref against the hub before any queue slot is taken.
func (gw *Gateway) resolve(r *http.Request, req *models.ScanRequest) (models.ScanJob, string) {
	if msg := validateRequest(req); msg != "" {
		return models.ScanJob{}, msg
	}
	exists, commit, msg := gw.hub.ResolveRef(r.Context(), req.RepoUrl, req.RefType, req.Ref)
	if !exists {
		return models.ScanJob{}, msg
	}
	if msg != "" {
		slog.Warn("Ref resolved with warning", "project", req.ProjectName, "message", msg)
	}
	return models.ScanJob{ScanRequest: *req, Commit: commit}, ""
}

func (gw *Gateway) handleScan(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Status: "validation_failed", Message: err.Error()})
		return
	}

	job, msg := gw.resolve(r, &req)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, scanResponse{
			Status: "validation_failed", RefType: req.RefType, Ref: req.Ref, Message: msg,
		})
		return
	}

	if err := gw.manager.EnqueueSingle(job); err != nil {
		gw.rejectFull(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		Status: "accepted", RefType: job.RefType, Ref: job.Ref, Commit: job.Commit,
	})
}

func (gw *Gateway) handleMultiScan(w http.ResponseWriter, r *http.Request) {
	var reqs []models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Status: "validation_failed", Message: err.Error()})
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, scanResponse{Status: "validation_failed", Message: "empty scan list"})
		return
	}

	// Every ref must resolve before the batch takes its queue slot.
	jobs := make([]models.ScanJob, len(reqs))
	for i := range reqs {
		job, msg := gw.resolve(r, &reqs[i])
		if msg != "" {
			writeJSON(w, http.StatusBadRequest, scanResponse{
				Status:  "validation_failed",
				RefType: reqs[i].RefType,
				Ref:     reqs[i].Ref,
				Message: fmt.Sprintf("scan %d: %s", i, msg),
			})
			return
		}
		jobs[i] = job
	}

	if err := gw.manager.EnqueueMulti(jobs); err != nil {
		gw.rejectFull(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{Status: "accepted", Message: fmt.Sprintf("%d scans queued", len(jobs))})
}

// handleLocalScan accepts a multipart upload: an "archive" zip plus
// ProjectName and CallbackUrl form fields. The whole archive is read into
// memory before enqueue so the request body can be closed.
func (gw *Gateway) handleLocalScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(localArchiveLimit); err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Status: "validation_failed", Message: err.Error()})
		return
	}
	project := r.FormValue("ProjectName")
	callback := r.FormValue("CallbackUrl")
	if project == "" || callback == "" {
		writeJSON(w, http.StatusBadRequest, scanResponse{
			Status: "validation_failed", Message: "ProjectName and CallbackUrl are required",
		})
		return
	}

	file, _, err := r.FormFile("archive")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Status: "validation_failed", Message: "archive file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, localArchiveLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := models.ScanJob{ScanRequest: models.ScanRequest{
		ProjectName: project,
		CallbackUrl: callback,
	}}
	if err := gw.manager.EnqueueLocal(job, data); err != nil {
		gw.rejectFull(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{Status: "accepted"})
}

func (gw *Gateway) rejectFull(w http.ResponseWriter, err error) {
	if err == queue.ErrQueueFull {
		writeJSON(w, http.StatusTooManyRequests, scanResponse{Status: "queue_full"})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queue_size":     gw.manager.QueueSize(),
		"max_workers":    gw.cfg.MaxWorkers,
		"active_workers": gw.manager.ActiveWorkers(),
	})
}
