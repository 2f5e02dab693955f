package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"clipgen/internal/domain"
)

type jobStartResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type jobStatusResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Stage     string           `json:"stage"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
}

func statusOf(job domain.Job) jobStatusResponse {
	return jobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Stage:     job.Stage,
		Error:     job.Error,
		ErrorCode: job.ErrorCode,
	}
}

// StartJob accepts a request and returns before any generation work.
func (a *App) StartJob(w http.ResponseWriter, r *http.Request) {
	req, err := a.readRequest(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.jobs.Start(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusAccepted, jobStartResponse{JobID: job.ID, Status: job.Status})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, statusOf(job))
}

// JobVideo returns the finished clip once; the job is gone afterwards.
func (a *App) JobVideo(w http.ResponseWriter, r *http.Request) {
	data, meta, err := a.jobs.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeVideo(w, data, meta)
}
