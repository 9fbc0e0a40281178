package models

import (
	"fmt"
	"time"
)

// Experiment sync states. ElabID is set from the first successful remote
// create onward, even when a later sync fails.
const (
	SyncNotSynced = "not-synced"
	SyncSynced    = "synced"
	SyncFailed    = "sync-failed"
)

// Experiment statuses, derived from the statuses of the samples.
const (
	ExpPlanning  = "Planning"
	ExpRunning   = "Running"
	ExpAnalysis  = "Analysis"
	ExpCompleted = "Completed"
)

// Sample statuses, in workflow order.
const (
	SampleSetup           = "Setup"
	SamplePrepared        = "Prepared"
	SampleIncubating      = "Incubating"
	SampleSampling        = "Sampling"
	SampleAnalysisPending = "Analysis Pending"
	SampleMicroPlated     = "Micro Plated"
	SampleHPLCPrepped     = "HPLC Prepped"
	SamplePHMeasured      = "pH Measured"
	SampleScobyWeighed    = "SCOBY Weighed"
	SampleCompleted       = "Completed"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type User struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"`
	Salt            string    `json:"-"`
	APIKeyEncrypted *string   `json:"-"`
	APIKeyInvalid   bool      `json:"api_key_invalid"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasAPIKey reports whether an elabFTW key is stored for the user.
// The key itself is only recoverable with the session master key.
func (u *User) HasAPIKey() bool {
	return u.APIKeyEncrypted != nil && *u.APIKeyEncrypted != ""
}

type Experiment struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	Title              string     `json:"title"`
	Notes              string     `json:"notes"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	CurrentTimepointID *int64     `json:"current_timepoint_id"`
	ElabID             *int64     `json:"elab_id"`
	SyncStatus         string     `json:"sync_status"`
	SyncedAt           *time.Time `json:"synced_at"`
}

type Sample struct {
	ID           int64  `json:"id"`
	ExperimentID int64  `json:"experiment_id"`
	Name         string `json:"name"`
	Status       string `json:"status"`

	// Fermentation setup parameters; nil until entered.
	TeaType               *string  `json:"tea_type"`
	TeaConcentration      *float64 `json:"tea_concentration"` // g/L
	WaterAmount           *float64 `json:"water_amount"`      // mL
	SugarType             *string  `json:"sugar_type"`
	SugarConcentration    *float64 `json:"sugar_concentration"`    // g/L
	InoculumConcentration *float64 `json:"inoculum_concentration"` // %
	Temperature           *float64 `json:"temperature"`            // °C

	// Workflow tracking.
	PreparationTime     *time.Time `json:"preparation_time"`
	IncubationStartTime *time.Time `json:"incubation_start_time"`
	IncubationEndTime   *time.Time `json:"incubation_end_time"`
	SampleSplitTime     *time.Time `json:"sample_split_time"`
	MicroPlatingTime    *time.Time `json:"micro_plating_time"`
	MicroResults        *string    `json:"micro_results"`
	HPLCPrepTime        *time.Time `json:"hplc_prep_time"`
	HPLCResults         *string    `json:"hplc_results"`
	PHMeasurementTime   *time.Time `json:"ph_measurement_time"`
	PHValue             *float64   `json:"ph_value"`
	ScobyWetWeightTime  *time.Time `json:"scoby_wet_weight_time"`
	ScobyWetWeight      *float64   `json:"scoby_wet_weight"` // g
	ScobyDryWeight      *float64   `json:"scoby_dry_weight"` // g
	TemperatureLoggers  *string    `json:"temperature_logger_ids"`
	Notes               *string    `json:"notes"`
}

// Timepoint is a planned measurement moment within an experiment (t0, t4, ...).
type Timepoint struct {
	ID           int64   `json:"id"`
	ExperimentID int64   `json:"experiment_id"`
	Name         string  `json:"name"`
	Hours        float64 `json:"hours"`
	Description  string  `json:"description"`
	SortOrder    int     `json:"sort_order"`
}

// Measurement holds the values recorded for one sample at one timepoint.
type Measurement struct {
	ID          int64      `json:"id"`
	SampleID    int64      `json:"sample_id"`
	TimepointID int64      `json:"timepoint_id"`
	PHValue     *float64   `json:"ph_value"`
	Note        *string    `json:"note"`
	Completed   bool       `json:"completed"`
	RecordedAt  *time.Time `json:"recorded_at"`
}
