package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// JobMode distinguishes the two submission shapes.
type JobMode string

const (
	ModeQuery        JobMode = "query"
	ModeAccessionLst JobMode = "accessions"
)

// JobStatus is the lifecycle state of a job.
// Queued -> Running -> {Succeeded, Failed, Canceled}; terminal states are final.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions can leave this status.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Progress holds the monotonically increasing per-item counters of a job.
// Completed+Errored equals the number of targets processed so far and equals
// Total once the job reaches a terminal state.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// ItemError describes one per-item failure. Per-item failures never abort
// the job.
type ItemError struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// QueryFilters narrows a free-text genome query.
type QueryFilters struct {
	AssemblyLevel    []AssemblyLevel  `json:"assembly_level,omitempty"`
	SourcePreference SourcePreference `json:"source_db_preference,omitempty"`
	LatestOnly       *bool            `json:"latest_only,omitempty"`
}

// Preference returns the configured source preference, defaulting to RefSeq.
func (f QueryFilters) Preference() SourcePreference {
	if f.SourcePreference == "" {
		return PreferRefSeq
	}
	return f.SourcePreference
}

// Latest reports whether only the latest assembly versions are requested.
// Defaults to true when unset.
func (f QueryFilters) Latest() bool {
	return f.LatestOnly == nil || *f.LatestOnly
}

// QueryJobRequest is the submission body for a free-text genome query job.
type QueryJobRequest struct {
	Organism string       `json:"organism" validate:"required,min=1"`
	Keywords []string     `json:"keywords,omitempty"`
	Filters  QueryFilters `json:"filters"`
	Limit    int          `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
}

// Validate validates the QueryJobRequest using the validator.
func (r *QueryJobRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// AccessionJobRequest is the submission body for an accession list job.
type AccessionJobRequest struct {
	Accessions []string     `json:"accessions" validate:"required,min=1,dive,required"`
	Filters    QueryFilters `json:"filters"`
}

// Validate validates the AccessionJobRequest using the validator.
func (r *AccessionJobRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Job is one unit of user-submitted harvesting work. It is exclusively owned
// and mutated by the engine while running and becomes immutable once a
// terminal status is set.
type Job struct {
	ID          uuid.UUID          `json:"job_id"`
	Mode        JobMode            `json:"mode"`
	Status      JobStatus          `json:"status"`
	Progress    Progress           `json:"progress"`
	Results     []NormalizedRecord `json:"results,omitempty"`
	Errors      []ItemError        `json:"errors,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Snapshot is a point-in-time, copy-safe view of a job for external pollers.
// Reading a snapshot never blocks the work in progress.
type Snapshot struct {
	ID          uuid.UUID `json:"job_id"`
	Mode        JobMode   `json:"mode"`
	Status      JobStatus `json:"status"`
	Progress    Progress  `json:"progress"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobResults is the final result document of a job: normalized records in
// resolver order alongside the per-item error list.
type JobResults struct {
	Results []NormalizedRecord `json:"results"`
	Errors  []ItemError        `json:"errors"`
}
