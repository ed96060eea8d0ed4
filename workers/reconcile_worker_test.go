package workers

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

func TestSweepIsReadOnly(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PipelineRun{}))

	stale := models.PipelineRun{CorrelationID: "evt-stale", Stage: "ingest", Status: models.RunStatusRunning}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&stale).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)
	require.NoError(t, db.Create(&models.PipelineRun{
		CorrelationID: "evt-err", Stage: "friend_reward", Status: models.RunStatusError, LastError: "provider timeout",
	}).Error)
	require.NoError(t, db.Create(&models.PipelineRun{
		CorrelationID: "evt-ok", Stage: "done", Status: models.RunStatusCompleted,
	}).Error)

	w := NewReconcileWorker(db)
	w.Sweep()

	// Sweeping reports; redelivery stays with the event provider.
	var run models.PipelineRun
	require.NoError(t, db.First(&run, "correlation_id = ?", "evt-stale").Error)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	var errRun models.PipelineRun
	require.NoError(t, db.First(&errRun, "correlation_id = ?", "evt-err").Error)
	assert.Equal(t, models.RunStatusError, errRun.Status)
	assert.Equal(t, "provider timeout", errRun.LastError)
}
