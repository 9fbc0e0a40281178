package experiments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fermlog/db"
	"fermlog/models"
	"fermlog/report"
)

// RemoteNotebookClient is what the sync needs from the notebook service.
// The elab package provides the real implementation; tests substitute
// their own.
type RemoteNotebookClient interface {
	CreateExperiment(ctx context.Context, apiKey, title string) (int64, error)
	UpdateExperiment(ctx context.Context, apiKey string, elabID int64, title, htmlBody string) error
	VerifyKey(ctx context.Context, apiKey string) error
}

// Sync pushes the experiment's rendered report to the remote notebook.
// The first sync creates the remote entry and remembers its id; every
// later sync updates that same entry. On any failure the experiment is
// marked sync-failed and the error is returned for the caller to map.
func Sync(ctx context.Context, client RemoteNotebookClient, userID, experimentID int64, apiKey string) (*models.Experiment, error) {
	detail, err := GetDetail(ctx, userID, experimentID)
	if err != nil {
		return nil, err
	}
	exp := detail.Experiment

	html, err := report.Render(report.Input{
		Experiment:   exp,
		Samples:      detail.Samples,
		Timepoints:   detail.Timepoints,
		Measurements: detail.Measurements,
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	if exp.ElabID == nil {
		remoteID, err := client.CreateExperiment(ctx, apiKey, exp.Title)
		if err != nil {
			return nil, failSync(ctx, exp, fmt.Errorf("create remote experiment: %w", err))
		}
		// Persist the remote id right away: if the body update below
		// fails, the retry must update this entry, not create another.
		_, err = db.DB.ExecContext(ctx,
			"UPDATE experiments SET elab_id = ? WHERE id = ?", remoteID, exp.ID)
		if err != nil {
			return nil, err
		}
		exp.ElabID = &remoteID
		slog.Info("created remote experiment", "experiment_id", exp.ID, "elab_id", remoteID)
	}

	if err := client.UpdateExperiment(ctx, apiKey, *exp.ElabID, exp.Title, html); err != nil {
		return nil, failSync(ctx, exp, fmt.Errorf("update remote experiment: %w", err))
	}

	now := time.Now().UTC()
	_, err = db.DB.ExecContext(ctx,
		"UPDATE experiments SET sync_status = ?, synced_at = ? WHERE id = ?",
		models.SyncSynced, now, exp.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("experiment synced", "experiment_id", exp.ID, "elab_id", *exp.ElabID)
	return Get(ctx, userID, experimentID)
}

// failSync records the failed attempt and passes the cause through.
func failSync(ctx context.Context, exp *models.Experiment, cause error) error {
	_, err := db.DB.ExecContext(ctx,
		"UPDATE experiments SET sync_status = ? WHERE id = ?",
		models.SyncFailed, exp.ID)
	if err != nil {
		slog.Error("recording sync failure", "experiment_id", exp.ID, "error", err)
	}
	slog.Warn("experiment sync failed", "experiment_id", exp.ID, "error", cause)
	return cause
}
