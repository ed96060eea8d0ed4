// workers/reconcile_worker.go
package workers

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

// ReconcileWorker periodically sweeps the pipeline run trail and surfaces runs
// that look abandoned: still "running" past the stale cutoff (the process
// likely died mid-pipeline) or sitting in "error" awaiting redelivery. It only
// reports; redelivery is owned by the event provider.
type ReconcileWorker struct {
	DB         *gorm.DB
	Interval   time.Duration
	StaleAfter time.Duration
}

func NewReconcileWorker(db *gorm.DB) *ReconcileWorker {
	return &ReconcileWorker{
		DB:         db,
		Interval:   5 * time.Minute,
		StaleAfter: 15 * time.Minute,
	}
}

func (w *ReconcileWorker) Start() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(w.Sweep),
	)
}

func (w *ReconcileWorker) Sweep() {
	cutoff := time.Now().Add(-w.StaleAfter)

	var stuck []models.PipelineRun
	if err := w.DB.
		Where("status = ? AND updated_at < ?", models.RunStatusRunning, cutoff).
		Find(&stuck).Error; err != nil {
		log.Printf("[Reconcile] DB error scanning stuck runs: %v", err)
		return
	}
	for _, run := range stuck {
		log.Printf("[Reconcile] run %s stuck in stage %s since %s (attempts %d)",
			run.CorrelationID, run.Stage, run.UpdatedAt.Format(time.RFC3339), run.Attempts)
	}

	var errored int64
	if err := w.DB.Model(&models.PipelineRun{}).
		Where("status = ?", models.RunStatusError).
		Count(&errored).Error; err != nil {
		log.Printf("[Reconcile] DB error counting errored runs: %v", err)
		return
	}
	if errored > 0 {
		log.Printf("[Reconcile] %d run(s) in error state awaiting redelivery", errored)
	}
}
