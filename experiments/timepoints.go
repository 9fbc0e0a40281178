package experiments

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"fermlog/db"
	"fermlog/models"
)

// The default sampling plan: measurements at day 0, 4, 7 and 11.
var defaultTimepoints = []struct {
	name        string
	hours       float64
	description string
}{
	{"t0", 0, "Inoculation"},
	{"t4", 96, "Day 4"},
	{"t7", 168, "Day 7"},
	{"t11", 264, "Day 11"},
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// seedTimepoints inserts the default sampling plan and points the
// experiment at its first timepoint.
func seedTimepoints(ctx context.Context, ex execer, experimentID int64) error {
	var firstID int64
	for i, tp := range defaultTimepoints {
		res, err := ex.ExecContext(ctx,
			`INSERT INTO timepoints (experiment_id, name, hours, description, sort_order)
			 VALUES (?, ?, ?, ?, ?)`,
			experimentID, tp.name, tp.hours, tp.description, i)
		if err != nil {
			return err
		}
		if i == 0 {
			firstID, err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
	}
	_, err := ex.ExecContext(ctx,
		"UPDATE experiments SET current_timepoint_id = ? WHERE id = ?", firstID, experimentID)
	return err
}

// EnsureDefaultTimepoints seeds the default plan for experiments that
// have none, e.g. rows created before sampling plans existed.
func EnsureDefaultTimepoints(ctx context.Context, userID, experimentID int64) error {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return err
	}

	var count int
	err := db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM timepoints WHERE experiment_id = ?", experimentID,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return seedTimepoints(ctx, db.DB, experimentID)
}

// ListTimepoints returns the experiment's sampling plan in order.
func ListTimepoints(ctx context.Context, userID, experimentID int64) ([]models.Timepoint, error) {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return nil, err
	}
	return timepointsOf(ctx, experimentID)
}

// AddTimepoint appends a custom timepoint to the sampling plan.
func AddTimepoint(ctx context.Context, userID, experimentID int64, name, description string, hours float64) (*models.Timepoint, error) {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return nil, &models.ValidationError{Field: "name", Reason: "must be 1 to 50 characters"}
	}
	if hours < 0 || hours > 10000 {
		return nil, &models.ValidationError{Field: "hours", Reason: "must be between 0 and 10000"}
	}

	var maxOrder sql.NullInt64
	err := db.DB.QueryRowContext(ctx,
		"SELECT MAX(sort_order) FROM timepoints WHERE experiment_id = ?", experimentID,
	).Scan(&maxOrder)
	if err != nil {
		return nil, err
	}

	res, err := db.DB.ExecContext(ctx,
		`INSERT INTO timepoints (experiment_id, name, hours, description, sort_order)
		 VALUES (?, ?, ?, ?, ?)`,
		experimentID, name, hours, description, maxOrder.Int64+1)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, &models.ValidationError{Field: "name", Reason: "already used in this experiment"}
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return getTimepoint(ctx, id)
}

// DeleteTimepoint removes a timepoint and its measurements. If it was
// the current one, the experiment no longer has a current timepoint.
func DeleteTimepoint(ctx context.Context, userID, timepointID int64) error {
	tp, err := getTimepoint(ctx, timepointID)
	if err != nil {
		return err
	}
	exp, err := Get(ctx, userID, tp.ExperimentID)
	if err != nil {
		return err
	}

	if exp.CurrentTimepointID != nil && *exp.CurrentTimepointID == timepointID {
		_, err := db.DB.ExecContext(ctx,
			"UPDATE experiments SET current_timepoint_id = NULL WHERE id = ?", exp.ID)
		if err != nil {
			return err
		}
	}

	_, err = db.DB.ExecContext(ctx, "DELETE FROM timepoints WHERE id = ?", timepointID)
	return err
}

// SetCurrentTimepoint marks where the experiment currently stands in its
// sampling plan.
func SetCurrentTimepoint(ctx context.Context, userID, experimentID, timepointID int64) error {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return err
	}
	tp, err := getTimepoint(ctx, timepointID)
	if err != nil {
		return err
	}
	if tp.ExperimentID != experimentID {
		return ErrNotFound
	}

	_, err = db.DB.ExecContext(ctx,
		"UPDATE experiments SET current_timepoint_id = ? WHERE id = ?", timepointID, experimentID)
	return err
}

// AdvanceTimepoint moves the experiment to the next timepoint in the
// plan and returns it. With no current timepoint it starts at the first.
func AdvanceTimepoint(ctx context.Context, userID, experimentID int64) (*models.Timepoint, error) {
	exp, err := Get(ctx, userID, experimentID)
	if err != nil {
		return nil, err
	}

	timepoints, err := timepointsOf(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if len(timepoints) == 0 {
		return nil, ErrNoNextTimepoint
	}

	next := -1
	if exp.CurrentTimepointID == nil {
		next = 0
	} else {
		for i, tp := range timepoints {
			if tp.ID == *exp.CurrentTimepointID {
				next = i + 1
				break
			}
		}
		if next == -1 {
			// Current timepoint was deleted; restart at the beginning.
			next = 0
		}
	}
	if next >= len(timepoints) {
		return nil, ErrNoNextTimepoint
	}

	target := timepoints[next]
	_, err = db.DB.ExecContext(ctx,
		"UPDATE experiments SET current_timepoint_id = ? WHERE id = ?", target.ID, experimentID)
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// GetTimepoint loads one timepoint owned (via its experiment) by userID.
func GetTimepoint(ctx context.Context, userID, timepointID int64) (*models.Timepoint, error) {
	tp, err := getTimepoint(ctx, timepointID)
	if err != nil {
		return nil, err
	}
	if _, err := Get(ctx, userID, tp.ExperimentID); err != nil {
		return nil, err
	}
	return tp, nil
}

func getTimepoint(ctx context.Context, timepointID int64) (*models.Timepoint, error) {
	row := db.DB.QueryRowContext(ctx,
		`SELECT id, experiment_id, name, hours, description, sort_order
		 FROM timepoints WHERE id = ?`, timepointID)

	var tp models.Timepoint
	err := row.Scan(&tp.ID, &tp.ExperimentID, &tp.Name, &tp.Hours, &tp.Description, &tp.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func timepointsOf(ctx context.Context, experimentID int64) ([]models.Timepoint, error) {
	rows, err := db.DB.QueryContext(ctx,
		`SELECT id, experiment_id, name, hours, description, sort_order
		 FROM timepoints WHERE experiment_id = ?
		 ORDER BY sort_order, id`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timepoints []models.Timepoint
	for rows.Next() {
		var tp models.Timepoint
		err := rows.Scan(&tp.ID, &tp.ExperimentID, &tp.Name, &tp.Hours, &tp.Description, &tp.SortOrder)
		if err != nil {
			return nil, err
		}
		timepoints = append(timepoints, tp)
	}
	return timepoints, rows.Err()
}
