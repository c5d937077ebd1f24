package domain

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSuccess   RunStatus = "SUCCESS"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// MaxRunErrorLength bounds the error message persisted on a failed run.
const MaxRunErrorLength = 2000

// IngestionRun records one ingestion call against a source file.
type IngestionRun struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Filename       string     `json:"filename"`
	ChecksumSHA256 string     `json:"checksumSha256,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	Processed      int        `json:"processed"`
	Skipped        int        `json:"skipped"`
	Rejected       int        `json:"rejected"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// Finish moves the run to a terminal status and copies the counters of res.
func (r *IngestionRun) Finish(status RunStatus, res *IngestionResult, runErr error) {
	now := time.Now().UTC()
	r.Status = status
	r.FinishedAt = &now
	if res != nil {
		r.Processed = res.Processed
		r.Skipped = res.Skipped
		r.Rejected = res.Rejected
	}
	r.ErrorMessage = ""
	if runErr != nil {
		msg := runErr.Error()
		if len(msg) > MaxRunErrorLength {
			msg = msg[:MaxRunErrorLength]
		}
		r.ErrorMessage = msg
	}
}
