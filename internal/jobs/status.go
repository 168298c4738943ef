package jobs

import (
	"strings"
	"time"

	btypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// Status is the small job state set callers reason about.
type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusStopped    Status = "Stopped"
	// StatusError means the status query itself failed; the provider said nothing.
	StatusError Status = "Error"
)

// Terminal reports whether the provider will not move the job any further.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// mapStatus folds the provider's wider state set onto Status. Queued and
// validating states count as submitted, a stop in flight as in progress,
// partial completion as completed (its output files exist) and expiry as failure.
func mapStatus(s btypes.ModelInvocationJobStatus) Status {
	switch s {
	case btypes.ModelInvocationJobStatusSubmitted,
		btypes.ModelInvocationJobStatusValidating,
		btypes.ModelInvocationJobStatusScheduled:
		return StatusSubmitted
	case btypes.ModelInvocationJobStatusInProgress,
		btypes.ModelInvocationJobStatusStopping:
		return StatusInProgress
	case btypes.ModelInvocationJobStatusCompleted,
		btypes.ModelInvocationJobStatusPartiallyCompleted:
		return StatusCompleted
	case btypes.ModelInvocationJobStatusFailed,
		btypes.ModelInvocationJobStatusExpired:
		return StatusFailed
	case btypes.ModelInvocationJobStatusStopped:
		return StatusStopped
	}
	return StatusInProgress
}

// Snapshot is one status observation.
type Snapshot struct {
	JobARN         string    `json:"job_arn"`
	JobName        string    `json:"job_name,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
	Status         Status    `json:"status"`
	ProviderStatus string    `json:"provider_status,omitempty"`
	SubmitTime     time.Time `json:"submit_time"`
	LastModified   time.Time `json:"last_modified"`
	EndTime        time.Time `json:"end_time"`
	Message        string    `json:"message,omitempty"`
	InputURI       string    `json:"input_uri,omitempty"`
	// OutputURI is the provider-reported output location.
	OutputURI string `json:"output_uri,omitempty"`
}

// Handle identifies a submitted job.
type Handle struct {
	JobARN    string    `json:"job_arn"`
	JobName   string    `json:"job_name"`
	ModelID   string    `json:"model_id"`
	InputURI  string    `json:"input_uri"`
	OutputURI string    `json:"output_uri"`
	Submitted time.Time `json:"submitted"`
}

// JobID is the last path segment of a job ARN; the provider nests output
// files under a directory with this name.
func JobID(jobARN string) string {
	return jobARN[strings.LastIndex(jobARN, "/")+1:]
}
