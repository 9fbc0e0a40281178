package experiments

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fermlog/db"
	"fermlog/models"
)

// Workflow actions a lab worker can log on a sample.
const (
	ActionPrepare         = "prepare"
	ActionStartIncubation = "start_incubation"
	ActionEndIncubation   = "end_incubation"
	ActionSplit           = "split"
	ActionPlate           = "plate"
	ActionHPLCPrep        = "hplc_prep"
	ActionMeasurePH       = "measure_ph"
	ActionWeighScoby      = "weigh_scoby"
	ActionComplete        = "complete"
)

// sampleActions maps an action to the timestamp column it stamps and the
// sample status it implies. ActionComplete only moves the status.
var sampleActions = map[string]struct {
	column string
	status string
}{
	ActionPrepare:         {"preparation_time", models.SamplePrepared},
	ActionStartIncubation: {"incubation_start_time", models.SampleIncubating},
	ActionEndIncubation:   {"incubation_end_time", models.SampleSampling},
	ActionSplit:           {"sample_split_time", models.SampleAnalysisPending},
	ActionPlate:           {"micro_plating_time", models.SampleMicroPlated},
	ActionHPLCPrep:        {"hplc_prep_time", models.SampleHPLCPrepped},
	ActionMeasurePH:       {"ph_measurement_time", models.SamplePHMeasured},
	ActionWeighScoby:      {"scoby_wet_weight_time", models.SampleScobyWeighed},
	ActionComplete:        {"", models.SampleCompleted},
}

// Actions lists the workflow actions in their natural order, for the UI.
func Actions() []string {
	return []string{
		ActionPrepare, ActionStartIncubation, ActionEndIncubation,
		ActionSplit, ActionPlate, ActionHPLCPrep,
		ActionMeasurePH, ActionWeighScoby, ActionComplete,
	}
}

const sampleColumns = `id, experiment_id, name, status,
	tea_type, tea_concentration, water_amount, sugar_type,
	sugar_concentration, inoculum_concentration, temperature,
	preparation_time, incubation_start_time, incubation_end_time,
	sample_split_time, micro_plating_time, micro_results,
	hplc_prep_time, hplc_results, ph_measurement_time, ph_value,
	scoby_wet_weight_time, scoby_wet_weight, scoby_dry_weight,
	temperature_logger_ids, notes`

// AddSample appends a sample to an experiment the user owns.
func AddSample(ctx context.Context, userID, experimentID int64, s models.Sample) (*models.Sample, error) {
	if _, err := Get(ctx, userID, experimentID); err != nil {
		return nil, err
	}
	if err := validateSampleName(s.Name); err != nil {
		return nil, err
	}
	if err := validateSetup(&s); err != nil {
		return nil, err
	}
	if err := checkSampleCapacity(ctx, experimentID); err != nil {
		return nil, err
	}

	res, err := db.DB.ExecContext(ctx,
		`INSERT INTO samples (experiment_id, name, status,
		   tea_type, tea_concentration, water_amount, sugar_type,
		   sugar_concentration, inoculum_concentration, temperature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		experimentID, strings.TrimSpace(s.Name), models.SampleSetup,
		s.TeaType, s.TeaConcentration, s.WaterAmount, s.SugarType,
		s.SugarConcentration, s.InoculumConcentration, s.Temperature,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return getSample(ctx, id)
}

// UpdateSample changes a sample's name and fermentation setup.
func UpdateSample(ctx context.Context, userID, sampleID int64, s models.Sample) (*models.Sample, error) {
	if _, err := getOwnedSample(ctx, userID, sampleID); err != nil {
		return nil, err
	}
	if err := validateSampleName(s.Name); err != nil {
		return nil, err
	}
	if err := validateSetup(&s); err != nil {
		return nil, err
	}

	_, err := db.DB.ExecContext(ctx,
		`UPDATE samples SET name = ?, tea_type = ?, tea_concentration = ?,
		   water_amount = ?, sugar_type = ?, sugar_concentration = ?,
		   inoculum_concentration = ?, temperature = ?
		 WHERE id = ?`,
		strings.TrimSpace(s.Name), s.TeaType, s.TeaConcentration,
		s.WaterAmount, s.SugarType, s.SugarConcentration,
		s.InoculumConcentration, s.Temperature, sampleID,
	)
	if err != nil {
		return nil, err
	}
	return getSample(ctx, sampleID)
}

// Results carries the analysis values recorded for a sample. Stored
// values are replaced as given; nil clears a field.
type Results struct {
	PHValue            *float64
	ScobyWetWeight     *float64
	ScobyDryWeight     *float64
	MicroResults       *string
	HPLCResults        *string
	TemperatureLoggers *string
	Notes              *string
}

// UpdateResults stores the analysis results of a sample.
func UpdateResults(ctx context.Context, userID, sampleID int64, res Results) (*models.Sample, error) {
	if _, err := getOwnedSample(ctx, userID, sampleID); err != nil {
		return nil, err
	}
	if err := validatePH(res.PHValue); err != nil {
		return nil, err
	}
	if err := validateWeight("scoby_wet_weight", res.ScobyWetWeight); err != nil {
		return nil, err
	}
	if err := validateWeight("scoby_dry_weight", res.ScobyDryWeight); err != nil {
		return nil, err
	}

	_, err := db.DB.ExecContext(ctx,
		`UPDATE samples SET ph_value = ?, scoby_wet_weight = ?, scoby_dry_weight = ?,
		   micro_results = ?, hplc_results = ?, temperature_logger_ids = ?, notes = ?
		 WHERE id = ?`,
		res.PHValue, res.ScobyWetWeight, res.ScobyDryWeight,
		res.MicroResults, res.HPLCResults, res.TemperatureLoggers, res.Notes,
		sampleID,
	)
	if err != nil {
		return nil, err
	}
	return getSample(ctx, sampleID)
}

// DeleteSample removes a sample. The last sample of an experiment cannot
// be deleted.
func DeleteSample(ctx context.Context, userID, sampleID int64) error {
	s, err := getOwnedSample(ctx, userID, sampleID)
	if err != nil {
		return err
	}

	var count int
	err = db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM samples WHERE experiment_id = ?", s.ExperimentID,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count <= 1 {
		return &models.ValidationError{Field: "samples", Reason: "an experiment needs at least one sample"}
	}

	if _, err := db.DB.ExecContext(ctx, "DELETE FROM samples WHERE id = ?", sampleID); err != nil {
		return err
	}
	return recomputeStatus(ctx, s.ExperimentID)
}

// DuplicateSample copies a sample's fermentation setup into a new sample
// named "<name> (Copy)" that starts back at Setup.
func DuplicateSample(ctx context.Context, userID, sampleID int64) (*models.Sample, error) {
	s, err := getOwnedSample(ctx, userID, sampleID)
	if err != nil {
		return nil, err
	}
	if err := checkSampleCapacity(ctx, s.ExperimentID); err != nil {
		return nil, err
	}

	copyName := s.Name + " (Copy)"
	if len(copyName) > 100 {
		copyName = copyName[:100]
	}

	res, err := db.DB.ExecContext(ctx,
		`INSERT INTO samples (experiment_id, name, status,
		   tea_type, tea_concentration, water_amount, sugar_type,
		   sugar_concentration, inoculum_concentration, temperature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ExperimentID, copyName, models.SampleSetup,
		s.TeaType, s.TeaConcentration, s.WaterAmount, s.SugarType,
		s.SugarConcentration, s.InoculumConcentration, s.Temperature,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := recomputeStatus(ctx, s.ExperimentID); err != nil {
		return nil, err
	}
	return getSample(ctx, id)
}

// LogSampleAction stamps a workflow step on a sample, moves its status
// and rolls the experiment status up.
func LogSampleAction(ctx context.Context, userID, sampleID int64, action string) (*models.Sample, error) {
	s, err := getOwnedSample(ctx, userID, sampleID)
	if err != nil {
		return nil, err
	}

	step, ok := sampleActions[action]
	if !ok {
		return nil, &models.ValidationError{Field: "action", Reason: "unknown action"}
	}

	if step.column == "" {
		_, err = db.DB.ExecContext(ctx,
			"UPDATE samples SET status = ? WHERE id = ?", step.status, sampleID)
	} else {
		// step.column comes from the fixed action table above, never
		// from user input.
		_, err = db.DB.ExecContext(ctx,
			"UPDATE samples SET "+step.column+" = ?, status = ? WHERE id = ?",
			time.Now().UTC(), step.status, sampleID)
	}
	if err != nil {
		return nil, err
	}

	if err := recomputeStatus(ctx, s.ExperimentID); err != nil {
		return nil, err
	}
	return getSample(ctx, sampleID)
}

// recomputeStatus rolls the sample statuses up into the experiment
// status: Completed when every sample is done, Planning while any sample
// is still in Setup, Running while any sample ferments, Analysis after.
func recomputeStatus(ctx context.Context, experimentID int64) error {
	rows, err := db.DB.QueryContext(ctx,
		"SELECT status FROM samples WHERE experiment_id = ?", experimentID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	active := map[string]bool{
		models.SampleIncubating: true,
		models.SampleSampling:   true,
	}

	allCompleted := len(statuses) > 0
	for _, s := range statuses {
		if s != models.SampleCompleted {
			allCompleted = false
		}
	}

	var status string
	switch {
	case allCompleted:
		status = models.ExpCompleted
	case anyIn(statuses, map[string]bool{models.SampleSetup: true}):
		status = models.ExpPlanning
	case anyIn(statuses, active):
		status = models.ExpRunning
	case len(statuses) > 0:
		status = models.ExpAnalysis
	default:
		status = models.ExpPlanning
	}

	_, err = db.DB.ExecContext(ctx,
		"UPDATE experiments SET status = ? WHERE id = ?", status, experimentID)
	return err
}

func anyIn(statuses []string, set map[string]bool) bool {
	for _, s := range statuses {
		if set[s] {
			return true
		}
	}
	return false
}

func checkSampleCapacity(ctx context.Context, experimentID int64) error {
	var count int
	err := db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM samples WHERE experiment_id = ?", experimentID,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count >= maxSamplesPerExperiment {
		return &models.ValidationError{
			Field:  "samples",
			Reason: "experiment already has the maximum number of samples",
		}
	}
	return nil
}

// GetSample loads one sample owned (via its experiment) by userID.
func GetSample(ctx context.Context, userID, sampleID int64) (*models.Sample, error) {
	return getOwnedSample(ctx, userID, sampleID)
}

// getOwnedSample loads a sample and checks that its experiment belongs
// to userID.
func getOwnedSample(ctx context.Context, userID, sampleID int64) (*models.Sample, error) {
	s, err := getSample(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if _, err := Get(ctx, userID, s.ExperimentID); err != nil {
		return nil, err
	}
	return s, nil
}

func getSample(ctx context.Context, sampleID int64) (*models.Sample, error) {
	row := db.DB.QueryRowContext(ctx,
		"SELECT "+sampleColumns+" FROM samples WHERE id = ?", sampleID)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func samplesOf(ctx context.Context, experimentID int64) ([]models.Sample, error) {
	rows, err := db.DB.QueryContext(ctx,
		"SELECT "+sampleColumns+" FROM samples WHERE experiment_id = ? ORDER BY id", experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (*models.Sample, error) {
	var s models.Sample
	err := row.Scan(&s.ID, &s.ExperimentID, &s.Name, &s.Status,
		&s.TeaType, &s.TeaConcentration, &s.WaterAmount, &s.SugarType,
		&s.SugarConcentration, &s.InoculumConcentration, &s.Temperature,
		&s.PreparationTime, &s.IncubationStartTime, &s.IncubationEndTime,
		&s.SampleSplitTime, &s.MicroPlatingTime, &s.MicroResults,
		&s.HPLCPrepTime, &s.HPLCResults, &s.PHMeasurementTime, &s.PHValue,
		&s.ScobyWetWeightTime, &s.ScobyWetWeight, &s.ScobyDryWeight,
		&s.TemperatureLoggers, &s.Notes)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
