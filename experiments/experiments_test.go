package experiments

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"fermlog/db"
	"fermlog/models"
)

func TestMain(m *testing.M) {
	tmp, err := os.CreateTemp("", "fermlog-experiments-test-*.db")
	if err != nil {
		log.Fatalf("create temp db: %v", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := db.Init(context.Background(), path); err != nil {
		os.Remove(path)
		log.Fatalf("init db: %v", err)
	}

	code := m.Run()

	db.Close()
	os.Remove(path)
	os.Exit(code)
}

// createUser inserts a bare user row; these tests do not need real
// password hashes.
func createUser(t *testing.T, username string) int64 {
	t.Helper()
	res, err := db.DB.Exec(
		"INSERT INTO users (username, password_hash, salt) VALUES (?, ?, ?)",
		username, "x", "y")
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return id
}

func fptr(f float64) *float64 { return &f }
func sptr(s string) *string   { return &s }

func TestCreateSeedsSamplesAndPlan(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "create-alice")

	exp, err := Create(ctx, alice, "Batch 1", "black tea series", 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exp.Title != "Batch 1" || exp.Status != models.ExpPlanning {
		t.Errorf("unexpected experiment: %+v", exp)
	}
	if exp.SyncStatus != models.SyncNotSynced || exp.ElabID != nil {
		t.Errorf("new experiment should be unsynced, got %q elab_id=%v", exp.SyncStatus, exp.ElabID)
	}

	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if len(detail.Samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(detail.Samples))
	}
	for i, s := range detail.Samples {
		want := []string{"Sample 1", "Sample 2", "Sample 3"}[i]
		if s.Name != want || s.Status != models.SampleSetup {
			t.Errorf("sample %d = %q (%s), want %q (Setup)", i, s.Name, s.Status, want)
		}
	}

	if len(detail.Timepoints) != 4 {
		t.Fatalf("got %d timepoints, want the default 4", len(detail.Timepoints))
	}
	names := []string{"t0", "t4", "t7", "t11"}
	hours := []float64{0, 96, 168, 264}
	for i, tp := range detail.Timepoints {
		if tp.Name != names[i] || tp.Hours != hours[i] {
			t.Errorf("timepoint %d = %s/%v, want %s/%v", i, tp.Name, tp.Hours, names[i], hours[i])
		}
	}
	if exp.CurrentTimepointID == nil || *exp.CurrentTimepointID != detail.Timepoints[0].ID {
		t.Error("current timepoint should start at t0")
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	user := createUser(t, "create-validation")

	var verr *models.ValidationError
	if _, err := Create(ctx, user, "   ", "", 1); !errors.As(err, &verr) || verr.Field != "title" {
		t.Errorf("blank title: got %v", err)
	}
	if _, err := Create(ctx, user, "ok", "", 0); !errors.As(err, &verr) || verr.Field != "sample_count" {
		t.Errorf("zero samples: got %v", err)
	}
	if _, err := Create(ctx, user, "ok", "", 21); !errors.As(err, &verr) || verr.Field != "sample_count" {
		t.Errorf("too many samples: got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "list-alice")
	bob := createUser(t, "list-bob")

	first, err := Create(ctx, alice, "First", "", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := Create(ctx, alice, "Second", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Create(ctx, bob, "Bobs", "", 1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := ListByUser(ctx, alice)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d experiments, want 2 (only alice's)", len(list))
	}
	// Newest first.
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("wrong order: got %d, %d", list[0].ID, list[1].ID)
	}
	if list[0].SampleCount != 1 || list[1].SampleCount != 2 {
		t.Errorf("sample counts = %d, %d", list[0].SampleCount, list[1].SampleCount)
	}
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "own-alice")
	bob := createUser(t, "own-bob")

	exp, err := Create(ctx, alice, "Private", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := Get(ctx, bob, exp.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Get by non-owner: got %v, want ErrForbidden", err)
	}
	if err := UpdateInfo(ctx, bob, exp.ID, "Stolen", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("UpdateInfo by non-owner: got %v, want ErrForbidden", err)
	}
	if err := Delete(ctx, bob, exp.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete by non-owner: got %v, want ErrForbidden", err)
	}
	if _, err := Get(ctx, alice, 999999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing id: got %v, want ErrNotFound", err)
	}

	// A rejected AddSample must leave the sample list untouched.
	before, err := samplesOf(ctx, exp.ID)
	if err != nil {
		t.Fatalf("samplesOf: %v", err)
	}
	_, err = AddSample(ctx, bob, exp.ID, models.Sample{Name: "intruder"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("AddSample by non-owner: got %v, want ErrForbidden", err)
	}
	after, err := samplesOf(ctx, exp.ID)
	if err != nil {
		t.Fatalf("samplesOf: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("sample list changed after forbidden AddSample: %d -> %d", len(before), len(after))
	}
}

func TestAddSampleValidation(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "addsample-alice")

	exp, err := Create(ctx, alice, "Validation", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var verr *models.ValidationError
	_, err = AddSample(ctx, alice, exp.ID, models.Sample{
		Name:        "too cold",
		Temperature: fptr(-500),
	})
	if !errors.As(err, &verr) || verr.Field != "temperature" {
		t.Errorf("temperature -500: got %v, want ValidationError on temperature", err)
	}

	_, err = AddSample(ctx, alice, exp.ID, models.Sample{
		Name:             "no tea",
		TeaConcentration: fptr(0),
	})
	if !errors.As(err, &verr) || verr.Field != "tea_concentration" {
		t.Errorf("tea 0 g/L: got %v, want ValidationError on tea_concentration", err)
	}

	_, err = AddSample(ctx, alice, exp.ID, models.Sample{Name: "  "})
	if !errors.As(err, &verr) || verr.Field != "name" {
		t.Errorf("blank name: got %v, want ValidationError on name", err)
	}

	s, err := AddSample(ctx, alice, exp.ID, models.Sample{
		Name:                  "B1-S2",
		TeaType:               sptr("Black"),
		TeaConcentration:      fptr(5),
		WaterAmount:           fptr(500),
		SugarType:             sptr("Sucrose"),
		SugarConcentration:    fptr(70),
		InoculumConcentration: fptr(10),
		Temperature:           fptr(24),
	})
	if err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if s.Temperature == nil || *s.Temperature != 24 {
		t.Errorf("stored temperature = %v, want 24", s.Temperature)
	}
	if s.Status != models.SampleSetup {
		t.Errorf("new sample status = %q, want Setup", s.Status)
	}
}

func TestUpdateSample(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "updsample-alice")

	exp, err := Create(ctx, alice, "Update", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	sampleID := detail.Samples[0].ID

	updated, err := UpdateSample(ctx, alice, sampleID, models.Sample{
		Name:        "Renamed",
		TeaType:     sptr("Green"),
		Temperature: fptr(28),
	})
	if err != nil {
		t.Fatalf("UpdateSample: %v", err)
	}
	if updated.Name != "Renamed" || *updated.TeaType != "Green" || *updated.Temperature != 28 {
		t.Errorf("update not applied: %+v", updated)
	}

	var verr *models.ValidationError
	_, err = UpdateSample(ctx, alice, sampleID, models.Sample{Name: "x", Temperature: fptr(99)})
	if !errors.As(err, &verr) || verr.Field != "temperature" {
		t.Errorf("temperature 99: got %v, want ValidationError on temperature", err)
	}
}

func TestDuplicateAndDeleteSample(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "dup-alice")

	exp, err := Create(ctx, alice, "Dup", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	original := detail.Samples[0]
	if _, err := UpdateSample(ctx, alice, original.ID, models.Sample{
		Name:        "Base",
		TeaType:     sptr("Black"),
		Temperature: fptr(24),
	}); err != nil {
		t.Fatalf("UpdateSample: %v", err)
	}
	if _, err := LogSampleAction(ctx, alice, original.ID, ActionPrepare); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}

	dup, err := DuplicateSample(ctx, alice, original.ID)
	if err != nil {
		t.Fatalf("DuplicateSample: %v", err)
	}
	if dup.Name != "Base (Copy)" {
		t.Errorf("duplicate name = %q", dup.Name)
	}
	if dup.TeaType == nil || *dup.TeaType != "Black" || dup.Temperature == nil || *dup.Temperature != 24 {
		t.Error("duplicate did not copy the fermentation setup")
	}
	if dup.Status != models.SampleSetup || dup.PreparationTime != nil {
		t.Error("duplicate must restart at Setup without workflow history")
	}

	if err := DeleteSample(ctx, alice, dup.ID); err != nil {
		t.Fatalf("DeleteSample: %v", err)
	}

	var verr *models.ValidationError
	if err := DeleteSample(ctx, alice, original.ID); !errors.As(err, &verr) {
		t.Errorf("deleting the last sample: got %v, want ValidationError", err)
	}
}

func TestWorkflowStatusRollup(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "workflow-alice")

	exp, err := Create(ctx, alice, "Workflow", "", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	first, second := detail.Samples[0].ID, detail.Samples[1].ID

	s, err := LogSampleAction(ctx, alice, first, ActionPrepare)
	if err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	if s.Status != models.SamplePrepared || s.PreparationTime == nil {
		t.Errorf("after prepare: status %q, time %v", s.Status, s.PreparationTime)
	}

	// The second sample is still in Setup, which pins the experiment to
	// Planning no matter how far the first one gets.
	if _, err := LogSampleAction(ctx, alice, first, ActionStartIncubation); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status != models.ExpPlanning {
		t.Errorf("experiment with a Setup sample = %q, want Planning", exp.Status)
	}

	if _, err := LogSampleAction(ctx, alice, second, ActionPrepare); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status != models.ExpRunning {
		t.Errorf("experiment while incubating = %q, want Running", exp.Status)
	}

	if _, err := LogSampleAction(ctx, alice, first, ActionEndIncubation); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status != models.ExpRunning {
		t.Errorf("experiment while sampling = %q, want Running", exp.Status)
	}

	if _, err := LogSampleAction(ctx, alice, first, ActionSplit); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status != models.ExpAnalysis {
		t.Errorf("experiment after the split = %q, want Analysis", exp.Status)
	}

	if _, err := LogSampleAction(ctx, alice, first, ActionComplete); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status == models.ExpCompleted {
		t.Error("experiment completed although one sample is still open")
	}

	if _, err := LogSampleAction(ctx, alice, second, ActionComplete); err != nil {
		t.Fatalf("LogSampleAction: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.Status != models.ExpCompleted {
		t.Errorf("experiment after completing all = %q, want Completed", exp.Status)
	}

	var verr *models.ValidationError
	if _, err := LogSampleAction(ctx, alice, first, "dance"); !errors.As(err, &verr) || verr.Field != "action" {
		t.Errorf("unknown action: got %v, want ValidationError on action", err)
	}
}

func TestTimepoints(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "tp-alice")

	exp, err := Create(ctx, alice, "Plan", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tps, err := ListTimepoints(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("ListTimepoints: %v", err)
	}
	if len(tps) != 4 {
		t.Fatalf("got %d timepoints", len(tps))
	}

	added, err := AddTimepoint(ctx, alice, exp.ID, "t14", "Day 14", 336)
	if err != nil {
		t.Fatalf("AddTimepoint: %v", err)
	}
	if added.SortOrder <= tps[len(tps)-1].SortOrder {
		t.Error("new timepoint must sort after the existing plan")
	}

	var verr *models.ValidationError
	if _, err := AddTimepoint(ctx, alice, exp.ID, "t14", "", 336); !errors.As(err, &verr) || verr.Field != "name" {
		t.Errorf("duplicate timepoint name: got %v", err)
	}
	if _, err := AddTimepoint(ctx, alice, exp.ID, "bad", "", -5); !errors.As(err, &verr) || verr.Field != "hours" {
		t.Errorf("negative hours: got %v", err)
	}

	// Advance walks the plan in order: t0 is current, next is t4.
	next, err := AdvanceTimepoint(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("AdvanceTimepoint: %v", err)
	}
	if next.Name != "t4" {
		t.Errorf("advance from t0 went to %q, want t4", next.Name)
	}
	for _, want := range []string{"t7", "t11", "t14"} {
		next, err = AdvanceTimepoint(ctx, alice, exp.ID)
		if err != nil {
			t.Fatalf("AdvanceTimepoint: %v", err)
		}
		if next.Name != want {
			t.Errorf("advance went to %q, want %q", next.Name, want)
		}
	}
	if _, err := AdvanceTimepoint(ctx, alice, exp.ID); !errors.Is(err, ErrNoNextTimepoint) {
		t.Errorf("advance past the end: got %v, want ErrNoNextTimepoint", err)
	}

	// SetCurrent jumps back; deleting the current timepoint clears it.
	if err := SetCurrentTimepoint(ctx, alice, exp.ID, added.ID); err != nil {
		t.Fatalf("SetCurrentTimepoint: %v", err)
	}
	if err := DeleteTimepoint(ctx, alice, added.ID); err != nil {
		t.Fatalf("DeleteTimepoint: %v", err)
	}
	exp, _ = Get(ctx, alice, exp.ID)
	if exp.CurrentTimepointID != nil {
		t.Error("current timepoint should be cleared after deleting it")
	}

	// A timepoint of a different experiment cannot become current.
	other, err := Create(ctx, alice, "Other", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	otherTps, _ := ListTimepoints(ctx, alice, other.ID)
	if err := SetCurrentTimepoint(ctx, alice, exp.ID, otherTps[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-experiment SetCurrent: got %v, want ErrNotFound", err)
	}
}

func TestMeasurements(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "meas-alice")

	exp, err := Create(ctx, alice, "Measure", "", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	sample := detail.Samples[0].ID
	t0 := detail.Timepoints[0].ID

	m, err := RecordMeasurement(ctx, alice, sample, t0, fptr(4.2), sptr("clear"))
	if err != nil {
		t.Fatalf("RecordMeasurement: %v", err)
	}
	if m.PHValue == nil || *m.PHValue != 4.2 || m.RecordedAt == nil {
		t.Errorf("stored measurement: %+v", m)
	}

	// Recording again replaces the value instead of adding a row.
	m, err = RecordMeasurement(ctx, alice, sample, t0, fptr(3.9), nil)
	if err != nil {
		t.Fatalf("RecordMeasurement (update): %v", err)
	}
	if *m.PHValue != 3.9 || m.Note != nil {
		t.Errorf("updated measurement: %+v", m)
	}
	all, err := ListMeasurements(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d measurements, want 1 after upsert", len(all))
	}

	var verr *models.ValidationError
	if _, err := RecordMeasurement(ctx, alice, sample, t0, fptr(15), nil); !errors.As(err, &verr) || verr.Field != "ph_value" {
		t.Errorf("pH 15: got %v, want ValidationError on ph_value", err)
	}

	// Completion flag without a recorded value.
	second := detail.Samples[1].ID
	if err := MarkMeasurementDone(ctx, alice, second, t0, true); err != nil {
		t.Fatalf("MarkMeasurementDone: %v", err)
	}
	all, _ = ListMeasurements(ctx, alice, exp.ID)
	if len(all) != 2 {
		t.Fatalf("got %d measurements, want 2", len(all))
	}

	// Timepoints of a foreign experiment are rejected.
	other, err := Create(ctx, alice, "Foreign", "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	otherDetail, _ := GetDetail(ctx, alice, other.ID)
	_, err = RecordMeasurement(ctx, alice, sample, otherDetail.Timepoints[0].ID, fptr(4), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-experiment measurement: got %v, want ErrNotFound", err)
	}

	bob := createUser(t, "meas-bob")
	if _, err := ListMeasurements(ctx, bob, exp.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("ListMeasurements by non-owner: got %v, want ErrForbidden", err)
	}
}

func TestMeasurementMatrixAndCompletion(t *testing.T) {
	ctx := context.Background()
	alice := createUser(t, "matrix-alice")

	exp, err := Create(ctx, alice, "Matrix", "", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	detail, err := GetDetail(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	s1, s2 := detail.Samples[0].ID, detail.Samples[1].ID
	t0 := detail.Timepoints[0].ID

	rows, err := MeasurementMatrix(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("MeasurementMatrix: %v", err)
	}
	if len(rows) != len(detail.Timepoints) {
		t.Fatalf("got %d rows, want one per timepoint", len(rows))
	}
	if !rows[0].IsCurrent {
		t.Error("first row should be the current timepoint")
	}
	for _, row := range rows {
		if len(row.Cells) != 2 {
			t.Fatalf("row %s has %d cells, want 2", row.Timepoint.Name, len(row.Cells))
		}
		if row.Completed {
			t.Errorf("row %s completed without any measurements", row.Timepoint.Name)
		}
		for _, cell := range row.Cells {
			if cell.Measurement != nil {
				t.Errorf("cell %s/%s has a measurement", row.Timepoint.Name, cell.Sample.Name)
			}
		}
	}

	// One sample done is not enough to complete the timepoint.
	if _, err := RecordMeasurement(ctx, alice, s1, t0, fptr(4.0), nil); err != nil {
		t.Fatalf("RecordMeasurement: %v", err)
	}
	if err := MarkMeasurementDone(ctx, alice, s1, t0, true); err != nil {
		t.Fatalf("MarkMeasurementDone: %v", err)
	}
	done, err := TimepointCompleted(ctx, alice, t0)
	if err != nil {
		t.Fatalf("TimepointCompleted: %v", err)
	}
	if done {
		t.Error("timepoint completed although one sample is open")
	}

	if err := MarkMeasurementDone(ctx, alice, s2, t0, true); err != nil {
		t.Fatalf("MarkMeasurementDone: %v", err)
	}
	if done, _ := TimepointCompleted(ctx, alice, t0); !done {
		t.Error("timepoint not completed although every sample is done")
	}

	rows, err = MeasurementMatrix(ctx, alice, exp.ID)
	if err != nil {
		t.Fatalf("MeasurementMatrix: %v", err)
	}
	if !rows[0].Completed {
		t.Error("first row should be completed")
	}
	if rows[1].Completed {
		t.Error("second row completed without measurements")
	}
	cell := rows[0].Cells[0]
	if cell.Measurement == nil || cell.Measurement.PHValue == nil || *cell.Measurement.PHValue != 4.0 {
		t.Errorf("first cell = %+v, want the recorded pH", cell.Measurement)
	}

	// Reopening a cell takes the completion back.
	if err := MarkMeasurementDone(ctx, alice, s2, t0, false); err != nil {
		t.Fatalf("MarkMeasurementDone (reopen): %v", err)
	}
	if done, _ := TimepointCompleted(ctx, alice, t0); done {
		t.Error("timepoint still completed after reopening a cell")
	}

	bob := createUser(t, "matrix-bob")
	if _, err := TimepointCompleted(ctx, bob, t0); !errors.Is(err, ErrForbidden) {
		t.Errorf("TimepointCompleted by non-owner: got %v, want ErrForbidden", err)
	}
	if _, err := MeasurementMatrix(ctx, bob, exp.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("MeasurementMatrix by non-owner: got %v, want ErrForbidden", err)
	}
}
