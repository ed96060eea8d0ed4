package models

import "time"

// RunStatus indicates the state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// PipelineRun is the coarse stage/status trail for one logical event
// processing, keyed by correlation id. Write-only from the pipeline's point of
// view; operators read it to reconcile whether the money moved.
type PipelineRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"uniqueIndex;not null;type:varchar(128)" json:"correlation_id"`
	Stage         string    `gorm:"type:varchar(64);not null" json:"stage"`
	Status        RunStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Attempts      int       `gorm:"default:0" json:"attempts"`
	LastError     string    `gorm:"type:text" json:"last_error,omitempty"`
	Context       string    `gorm:"type:text" json:"context,omitempty"`
	Payload       string    `gorm:"type:text" json:"payload,omitempty"`

	// Where the raw webhook payload was archived, if R2 is configured.
	PayloadArchiveURL string `json:"payload_archive_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
