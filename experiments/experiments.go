// Package experiments implements the fermentation domain: experiments
// and their samples, the timepoint plan, measurements and the sync to
// the remote notebook. Every operation takes the acting user's id and
// refuses records owned by someone else.
package experiments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fermlog/db"
	"fermlog/models"
)

const maxSamplesPerExperiment = 20

const experimentColumns = `id, user_id, title, notes, status, created_at,
	current_timepoint_id, elab_id, sync_status, synced_at`

// Summary is one row of the experiment list.
type Summary struct {
	models.Experiment
	SampleCount int
}

// Detail bundles an experiment with everything hanging off it.
type Detail struct {
	Experiment   *models.Experiment
	Samples      []models.Sample
	Timepoints   []models.Timepoint
	Measurements []models.Measurement
}

// Create starts a new experiment with sampleCount empty samples and the
// default sampling plan. Samples are named "Sample 1".."Sample n" and
// filled in later.
func Create(ctx context.Context, userID int64, title, notes string, sampleCount int) (*models.Experiment, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if sampleCount < 1 || sampleCount > maxSamplesPerExperiment {
		return nil, &models.ValidationError{
			Field:  "sample_count",
			Reason: fmt.Sprintf("must be between 1 and %d", maxSamplesPerExperiment),
		}
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO experiments (user_id, title, notes, status) VALUES (?, ?, ?, ?)",
		userID, strings.TrimSpace(title), notes, models.ExpPlanning,
	)
	if err != nil {
		return nil, fmt.Errorf("insert experiment: %w", err)
	}
	experimentID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= sampleCount; i++ {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO samples (experiment_id, name, status) VALUES (?, ?, ?)",
			experimentID, fmt.Sprintf("Sample %d", i), models.SampleSetup,
		)
		if err != nil {
			return nil, fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if err := seedTimepoints(ctx, tx, experimentID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return Get(ctx, userID, experimentID)
}

// ListByUser returns the user's experiments, newest first.
func ListByUser(ctx context.Context, userID int64) ([]Summary, error) {
	rows, err := db.DB.QueryContext(ctx,
		`SELECT e.id, e.user_id, e.title, e.notes, e.status, e.created_at,
		        e.current_timepoint_id, e.elab_id, e.sync_status, e.synced_at,
		        COUNT(s.id)
		 FROM experiments e
		 LEFT JOIN samples s ON s.experiment_id = e.id
		 WHERE e.user_id = ?
		 GROUP BY e.id
		 ORDER BY e.created_at DESC, e.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Summary
	for rows.Next() {
		var s Summary
		err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Notes, &s.Status, &s.CreatedAt,
			&s.CurrentTimepointID, &s.ElabID, &s.SyncStatus, &s.SyncedAt, &s.SampleCount)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Get loads one experiment owned by userID.
func Get(ctx context.Context, userID, experimentID int64) (*models.Experiment, error) {
	exp, err := getExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.UserID != userID {
		return nil, ErrForbidden
	}
	return exp, nil
}

// GetDetail loads an experiment with its samples, timepoints and
// measurements, in stable order.
func GetDetail(ctx context.Context, userID, experimentID int64) (*Detail, error) {
	exp, err := Get(ctx, userID, experimentID)
	if err != nil {
		return nil, err
	}

	samples, err := samplesOf(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	timepoints, err := timepointsOf(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	measurements, err := measurementsOf(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	return &Detail{
		Experiment:   exp,
		Samples:      samples,
		Timepoints:   timepoints,
		Measurements: measurements,
	}, nil
}

// UpdateInfo changes title and notes.
func UpdateInfo(ctx context.Context, userID, experimentID int64, title, notes string) error {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return err
	}
	if err := validateTitle(title); err != nil {
		return err
	}
	_, err := db.DB.ExecContext(ctx,
		"UPDATE experiments SET title = ?, notes = ? WHERE id = ?",
		strings.TrimSpace(title), notes, experimentID)
	return err
}

// Delete removes the experiment and, via foreign keys, its samples,
// timepoints and measurements. The remote notebook entry stays.
func Delete(ctx context.Context, userID, experimentID int64) error {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return err
	}
	_, err := db.DB.ExecContext(ctx, "DELETE FROM experiments WHERE id = ?", experimentID)
	return err
}

func getExperiment(ctx context.Context, experimentID int64) (*models.Experiment, error) {
	row := db.DB.QueryRowContext(ctx,
		"SELECT "+experimentColumns+" FROM experiments WHERE id = ?", experimentID)

	var e models.Experiment
	err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.Notes, &e.Status, &e.CreatedAt,
		&e.CurrentTimepointID, &e.ElabID, &e.SyncStatus, &e.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
