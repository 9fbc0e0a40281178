package experiments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fermlog/db"
	"fermlog/models"
)

// RecordMeasurement stores (or replaces) the pH reading of a sample at a
// timepoint. The timepoint must belong to the sample's experiment.
func RecordMeasurement(ctx context.Context, userID, sampleID, timepointID int64, ph *float64, note *string) (*models.Measurement, error) {
	s, err := getOwnedSample(ctx, userID, sampleID)
	if err != nil {
		return nil, err
	}
	tp, err := getTimepoint(ctx, timepointID)
	if err != nil {
		return nil, err
	}
	if tp.ExperimentID != s.ExperimentID {
		return nil, ErrNotFound
	}
	if err := validatePH(ph); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = db.DB.ExecContext(ctx,
		`INSERT INTO measurements (sample_id, timepoint_id, ph_value, note, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (sample_id, timepoint_id) DO UPDATE SET
		   ph_value = excluded.ph_value,
		   note = excluded.note,
		   recorded_at = excluded.recorded_at`,
		sampleID, timepointID, ph, note, now)
	if err != nil {
		return nil, err
	}
	return getMeasurement(ctx, sampleID, timepointID)
}

// MarkMeasurementDone flags a sample/timepoint cell as completed (or
// reopens it), creating the row if no value was recorded yet.
func MarkMeasurementDone(ctx context.Context, userID, sampleID, timepointID int64, done bool) error {
	s, err := getOwnedSample(ctx, userID, sampleID)
	if err != nil {
		return err
	}
	tp, err := getTimepoint(ctx, timepointID)
	if err != nil {
		return err
	}
	if tp.ExperimentID != s.ExperimentID {
		return ErrNotFound
	}

	_, err = db.DB.ExecContext(ctx,
		`INSERT INTO measurements (sample_id, timepoint_id, completed)
		 VALUES (?, ?, ?)
		 ON CONFLICT (sample_id, timepoint_id) DO UPDATE SET
		   completed = excluded.completed`,
		sampleID, timepointID, done)
	return err
}

// ListMeasurements returns every measurement of the experiment.
func ListMeasurements(ctx context.Context, userID, experimentID int64) ([]models.Measurement, error) {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return nil, err
	}
	return measurementsOf(ctx, experimentID)
}

// MatrixCell pairs a sample with its measurement at one timepoint, nil
// when nothing was recorded yet.
type MatrixCell struct {
	Sample      models.Sample
	Measurement *models.Measurement
}

// MatrixRow is one timepoint row of the measurement grid. Completed is
// true once every sample has a completed measurement at the timepoint.
type MatrixRow struct {
	Timepoint models.Timepoint
	IsCurrent bool
	Completed bool
	Cells     []MatrixCell
}

// MeasurementMatrix lays the experiment's measurements out as one row
// per timepoint with one cell per sample, ready for the grid view.
func MeasurementMatrix(ctx context.Context, userID, experimentID int64) ([]MatrixRow, error) {
	detail, err := GetDetail(ctx, userID, experimentID)
	if err != nil {
		return nil, err
	}

	lookup := map[int64]map[int64]*models.Measurement{}
	for i := range detail.Measurements {
		m := &detail.Measurements[i]
		if lookup[m.TimepointID] == nil {
			lookup[m.TimepointID] = map[int64]*models.Measurement{}
		}
		lookup[m.TimepointID][m.SampleID] = m
	}

	rows := make([]MatrixRow, 0, len(detail.Timepoints))
	for _, tp := range detail.Timepoints {
		row := MatrixRow{Timepoint: tp, Completed: true}
		if cur := detail.Experiment.CurrentTimepointID; cur != nil && *cur == tp.ID {
			row.IsCurrent = true
		}
		for _, s := range detail.Samples {
			m := lookup[tp.ID][s.ID]
			if m == nil || !m.Completed {
				row.Completed = false
			}
			row.Cells = append(row.Cells, MatrixCell{Sample: s, Measurement: m})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TimepointCompleted reports whether every sample of the timepoint's
// experiment has a completed measurement at that timepoint.
func TimepointCompleted(ctx context.Context, userID, timepointID int64) (bool, error) {
	tp, err := GetTimepoint(ctx, userID, timepointID)
	if err != nil {
		return false, err
	}

	row := db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples s
		 WHERE s.experiment_id = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM measurements m
		     WHERE m.sample_id = s.id AND m.timepoint_id = ? AND m.completed = 1
		   )`, tp.ExperimentID, timepointID)
	var open int
	if err := row.Scan(&open); err != nil {
		return false, err
	}
	return open == 0, nil
}

func getMeasurement(ctx context.Context, sampleID, timepointID int64) (*models.Measurement, error) {
	row := db.DB.QueryRowContext(ctx,
		`SELECT id, sample_id, timepoint_id, ph_value, note, completed, recorded_at
		 FROM measurements WHERE sample_id = ? AND timepoint_id = ?`,
		sampleID, timepointID)

	var m models.Measurement
	err := row.Scan(&m.ID, &m.SampleID, &m.TimepointID, &m.PHValue, &m.Note, &m.Completed, &m.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func measurementsOf(ctx context.Context, experimentID int64) ([]models.Measurement, error) {
	rows, err := db.DB.QueryContext(ctx,
		`SELECT m.id, m.sample_id, m.timepoint_id, m.ph_value, m.note, m.completed, m.recorded_at
		 FROM measurements m
		 JOIN samples s ON s.id = m.sample_id
		 WHERE s.experiment_id = ?
		 ORDER BY m.timepoint_id, m.sample_id`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var measurements []models.Measurement
	for rows.Next() {
		var m models.Measurement
		err := rows.Scan(&m.ID, &m.SampleID, &m.TimepointID, &m.PHValue, &m.Note, &m.Completed, &m.RecordedAt)
		if err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}
