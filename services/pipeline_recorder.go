// services/pipeline_recorder.go
package services

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"salon-referral-system/models"
)

// Stage names recorded on pipeline runs. The external trail is a contract
// with operators, so they live in one place.
const (
	StageIngest            = "ingest"
	StageFriendReward      = "friend_reward"
	StageReferrerReward    = "referrer_reward"
	StageReferrerPromotion = "referrer_promotion"
	StageDone              = "done"
)

// PipelineRecorder writes the stage/status trail per correlation id. Every
// write is best effort: a failed write is logged and never aborts the reward
// pipeline.
type PipelineRecorder struct {
	DB *gorm.DB
}

func NewPipelineRecorder(db *gorm.DB) *PipelineRecorder {
	return &PipelineRecorder{DB: db}
}

type StageUpdate struct {
	Stage             string
	Status            models.RunStatus
	Payload           string
	Context           string
	IncrementAttempts bool
	ClearError        bool
}

// UpdateStage upserts the run for a correlation id and moves it to the given
// stage/status. A completed status always clears the error field.
func (r *PipelineRecorder) UpdateStage(correlationID string, upd StageUpdate) {
	if upd.Status == models.RunStatusCompleted {
		upd.ClearError = true
	}

	var run models.PipelineRun
	err := r.DB.Where("correlation_id = ?", correlationID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		run = models.PipelineRun{
			CorrelationID: correlationID,
			Stage:         upd.Stage,
			Status:        upd.Status,
			Payload:       upd.Payload,
			Context:       upd.Context,
		}
		if upd.IncrementAttempts {
			run.Attempts = 1
		}
		if err := r.DB.Create(&run).Error; err != nil {
			log.Printf("[RECORDER] failed to create run %s: %v", correlationID, err)
		}
		return
	}
	if err != nil {
		log.Printf("[RECORDER] failed to load run %s: %v", correlationID, err)
		return
	}

	updates := map[string]interface{}{
		"stage":  upd.Stage,
		"status": upd.Status,
	}
	if upd.Payload != "" {
		updates["payload"] = upd.Payload
	}
	if upd.Context != "" {
		updates["context"] = upd.Context
	}
	if upd.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	if upd.ClearError {
		updates["last_error"] = ""
	}
	if err := r.DB.Model(&models.PipelineRun{}).
		Where("correlation_id = ?", correlationID).
		Updates(updates).Error; err != nil {
		log.Printf("[RECORDER] failed to update run %s: %v", correlationID, err)
	}
}

// MarkError records a failure at the given stage. The run stays in error until
// a redelivery produces a completion that overwrites it.
func (r *PipelineRecorder) MarkError(correlationID string, runErr error, stage string) {
	if runErr == nil {
		return
	}
	var run models.PipelineRun
	err := r.DB.Where("correlation_id = ?", correlationID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		run = models.PipelineRun{
			CorrelationID: correlationID,
			Stage:         stage,
			Status:        models.RunStatusError,
			LastError:     runErr.Error(),
		}
		if err := r.DB.Create(&run).Error; err != nil {
			log.Printf("[RECORDER] failed to create errored run %s: %v", correlationID, err)
		}
		return
	}
	if err != nil {
		log.Printf("[RECORDER] failed to load run %s: %v", correlationID, err)
		return
	}

	if err := r.DB.Model(&models.PipelineRun{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]interface{}{
			"stage":      stage,
			"status":     models.RunStatusError,
			"last_error": runErr.Error(),
		}).Error; err != nil {
		log.Printf("[RECORDER] failed to mark run %s errored: %v", correlationID, err)
	}
}

// SetArchiveURL records where the raw payload snapshot was archived.
func (r *PipelineRecorder) SetArchiveURL(correlationID, url string) {
	if err := r.DB.Model(&models.PipelineRun{}).
		Where("correlation_id = ?", correlationID).
		Update("payload_archive_url", url).Error; err != nil {
		log.Printf("[RECORDER] failed to record archive URL for run %s: %v", correlationID, err)
	}
}
