package model

import (
	"time"
)

// RunStatus represents the lifecycle state of a bulk-import run.
type RunStatus string

const (
	RunStatusUploaded    RunStatus = "uploaded"
	RunStatusProcessing  RunStatus = "processing"
	RunStatusReviewReady RunStatus = "review_ready"
	RunStatusNoData      RunStatus = "no_data"
	RunStatusFailed      RunStatus = "failed"
	RunStatusFinalizing  RunStatus = "finalizing"
	RunStatusCompleted   RunStatus = "completed"
)

// IsTerminal reports whether no worker will pick the run up again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusNoData, RunStatusFailed, RunStatusCompleted:
		return true
	default:
		return false
	}
}

// EntrypointType is the kind of live entity a run was started from.
type EntrypointType string

const (
	EntrypointCompany  EntrypointType = "company"
	EntrypointLocation EntrypointType = "location"
)

// Valid reports whether t is a known entrypoint type.
func (t EntrypointType) Valid() bool {
	return t == EntrypointCompany || t == EntrypointLocation
}

// ProgressStep is the durable phase marker written while a run is processing.
type ProgressStep string

const (
	StepReadingFile          ProgressStep = "reading_file"
	StepIdentifyingLocations ProgressStep = "identifying_locations"
	StepExtractingStreams    ProgressStep = "extracting_streams"
	StepCategorizing         ProgressStep = "categorizing"
)

// RunCounters are the aggregate item counts the UI polls.
type RunCounters struct {
	TotalItems     int `json:"total_items"`
	AcceptedCount  int `json:"accepted_count"`
	RejectedCount  int `json:"rejected_count"`
	AmendedCount   int `json:"amended_count"`
	InvalidCount   int `json:"invalid_count"`
	DuplicateCount int `json:"duplicate_count"`
	PendingCount   int `json:"pending_count"`
}

// ImportRun is one bulk-import attempt owned by an organization.
type ImportRun struct {
	ID                    string           `json:"id"`
	OrganizationID        string           `json:"organization_id"`
	CreatedByUserID       string           `json:"created_by_user_id"`
	EntrypointType        EntrypointType   `json:"entrypoint_type"`
	EntrypointID          string           `json:"entrypoint_id"`
	SourceFilePath        string           `json:"source_file_path"`
	SourceFilename        string           `json:"source_filename"`
	Status                RunStatus        `json:"status"`
	ProgressStep          ProgressStep     `json:"progress_step,omitempty"`
	ProcessingAttempts    int              `json:"processing_attempts"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty"`
	ProcessingAvailableAt *time.Time       `json:"processing_available_at,omitempty"`
	ProcessingError       string           `json:"processing_error,omitempty"`
	FinalizedByUserID     string           `json:"finalized_by_user_id,omitempty"`
	FinalizedAt           *time.Time       `json:"finalized_at,omitempty"`
	Summary               *FinalizeSummary `json:"summary_data,omitempty"`
	ArtifactsPurgedAt     *time.Time       `json:"artifacts_purged_at,omitempty"`
	RunCounters
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FinalizeSummary is the snapshot persisted when a run completes.
type FinalizeSummary struct {
	RunID              string `json:"run_id"`
	LocationsCreated   int    `json:"locations_created"`
	ProjectsCreated    int    `json:"projects_created"`
	Rejected           int    `json:"rejected"`
	Invalid            int    `json:"invalid"`
	DuplicatesResolved int    `json:"duplicates_resolved"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
