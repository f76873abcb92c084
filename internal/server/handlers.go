package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/genome-harvester/internal/db"
	"github.com/jonathan/genome-harvester/internal/export"
	"github.com/jonathan/genome-harvester/internal/schemas"
	"github.com/jonathan/genome-harvester/internal/types"
	apischemas "github.com/jonathan/genome-harvester/schemas"
)

// Submission bodies are small; anything larger is a client error.
const maxRequestBody = 1 << 20

// SubmitResponse represents the response for job submissions
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleSubmitQuery starts a free-text query job
func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		return
	}

	// Schema validation runs before decoding so unknown fields and shape
	// errors come back with field paths.
	if err := schemas.ValidateJSONString(apischemas.QueryJobRequest, string(body)); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	var req types.QueryJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	snap, err := s.engine.SubmitQuery(&req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[api] accepted query job %s (organism=%q)", snap.ID, req.Organism)
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{
		JobID:  snap.ID.String(),
		Status: string(snap.Status),
	})
}

// handleSubmitAccessions starts an accession list job
func (s *Server) handleSubmitAccessions(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		return
	}

	if err := schemas.ValidateJSONString(apischemas.AccessionJobRequest, string(body)); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	var req types.AccessionJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	snap, err := s.engine.SubmitAccessions(&req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[api] accepted accession job %s (%d accession(s))", snap.ID, len(req.Accessions))
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{
		JobID:  snap.ID.String(),
		Status: string(snap.Status),
	})
}

// handleGetJob returns the status snapshot of a job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	snap, err := s.engine.Store().Snapshot(id)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

// handleListJobs returns recent job snapshots, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"jobs": s.engine.Store().List(limit),
	})
}

// handleGetResults returns the result document of a terminal job, as JSON
// or as a flattened CSV download
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	results, status, err := s.engine.Store().Results(id)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if results == nil {
		notReady := &ErrResultsNotReady{Status: string(status)}
		s.errorResponse(w, HTTPStatus(notReady), notReady.Error())
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		s.jsonResults(w, results)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "harvest_"+id.String()+".csv"))
		if err := export.WriteCSV(w, results); err != nil {
			log.Printf("Error writing CSV response: %v", err)
		}
	default:
		s.errorResponse(w, http.StatusBadRequest, "format must be json or csv")
	}
}

// handleCancelJob requests cancellation of a running job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Cancel(id); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	// Report whatever state the job is in after the cancel request; a
	// terminal job stays terminal.
	snap, err := s.engine.Store().Snapshot(id)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, snap)
}

// handleListArchivedJobs lists terminal jobs from the durable archive
func (s *Server) handleListArchivedJobs(w http.ResponseWriter, r *http.Request) {
	filters := db.JobFilters{
		Mode:   types.JobMode(r.URL.Query().Get("mode")),
		Status: types.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filters.Limit = n
	}

	jobs, err := s.archive.ListArchivedJobs(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetArchivedJob returns one archived job with its records
func (s *Server) handleGetArchivedJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	job, err := s.archive.GetArchivedJob(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "job not found")
		return
	}

	records, err := s.archive.GetArchivedRecords(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"job":     job,
		"results": records,
	})
}

// readBody reads a bounded request body, writing the error response itself
// on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return nil, err
	}
	if len(body) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "Request body is required")
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

// jobID parses the {id} path segment, writing the error response itself on
// failure.
func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID: "+idStr)
		return uuid.Nil, false
	}
	return id, true
}

// jsonResults streams the indented result document
func (s *Server) jsonResults(w http.ResponseWriter, results *types.JobResults) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := export.WriteJSON(w, results); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
