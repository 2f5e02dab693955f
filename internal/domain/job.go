package domain

import "time"

// JobStatus enumerates the states a caller can observe when polling.
type JobStatus string

const (
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// Terminal reports whether the job will not change status anymore.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// Job stages reported while a job is running.
const (
	StageQueued     = "queued"
	StagePreparing  = "preparing"
	StageEncoding   = "encoding"
	StageAudioCheck = "audio_check"
	StageVendor     = "vendor"
	StageDone       = "done"
)

// Job tracks an asynchronous generation from start to fetch.
type Job struct {
	ID        string            `json:"id"`
	Status    JobStatus         `json:"status"`
	Stage     string            `json:"stage"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Request   GenerationRequest `json:"request"`
	InputKey  string            `json:"input_key,omitempty"`
	ResultKey string            `json:"result_key,omitempty"`
	Artifact  *ArtifactMeta     `json:"artifact,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
