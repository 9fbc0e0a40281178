package handlers

import (
	"fmt"
	"net/http"

	"fermlog/auth"
	"fermlog/experiments"
	"fermlog/i18n"
	"fermlog/models"
)

// actionOptions drives the workflow dropdown on the sample page.
var actionOptions = []struct {
	Value    string
	LabelKey string
}{
	{experiments.ActionPrepare, "action_prepare"},
	{experiments.ActionStartIncubation, "action_start_incubation"},
	{experiments.ActionEndIncubation, "action_end_incubation"},
	{experiments.ActionSplit, "action_split"},
	{experiments.ActionPlate, "action_plate"},
	{experiments.ActionHPLCPrep, "action_hplc_prep"},
	{experiments.ActionMeasurePH, "action_measure_ph"},
	{experiments.ActionWeighScoby, "action_weigh_scoby"},
	{experiments.ActionComplete, "action_complete"},
}

// parseSetupForm reads the sample name and fermentation parameters.
func parseSetupForm(r *http.Request) (models.Sample, error) {
	s := models.Sample{Name: r.FormValue("name")}
	s.TeaType = formStr(r, "tea_type")
	s.SugarType = formStr(r, "sugar_type")

	var err error
	if s.TeaConcentration, err = formFloat(r, "tea_concentration"); err != nil {
		return s, err
	}
	if s.WaterAmount, err = formFloat(r, "water_amount"); err != nil {
		return s, err
	}
	if s.SugarConcentration, err = formFloat(r, "sugar_concentration"); err != nil {
		return s, err
	}
	if s.InoculumConcentration, err = formFloat(r, "inoculum_concentration"); err != nil {
		return s, err
	}
	if s.Temperature, err = formFloat(r, "temperature"); err != nil {
		return s, err
	}
	return s, nil
}

func SampleAddHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/experiments/%d", experimentID)

	s, err := parseSetupForm(r)
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	if _, err := experiments.AddSample(r.Context(), userID, experimentID, s); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func SamplePageHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	sample, err := experiments.GetSample(r.Context(), userID, sampleID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	detail, err := experiments.GetDetail(r.Context(), userID, sample.ExperimentID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	// One row per timepoint, with this sample's measurement if present.
	type measurementRow struct {
		Timepoint   models.Timepoint
		Measurement *models.Measurement
	}
	rows := make([]measurementRow, 0, len(detail.Timepoints))
	for _, tp := range detail.Timepoints {
		row := measurementRow{Timepoint: tp}
		for i := range detail.Measurements {
			m := detail.Measurements[i]
			if m.SampleID == sample.ID && m.TimepointID == tp.ID {
				row.Measurement = &detail.Measurements[i]
				break
			}
		}
		rows = append(rows, row)
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "sample", map[string]any{
		"Sample":       sample,
		"Experiment":   detail.Experiment,
		"Measurements": rows,
		"Actions":      actionOptions,
		"Msg":          msg,
		"Error":        errMsg,
	})
}

func SampleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/samples/%d", sampleID)

	s, err := parseSetupForm(r)
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	if _, err := experiments.UpdateSample(r.Context(), userID, sampleID, s); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func SampleResultsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/samples/%d", sampleID)

	var res experiments.Results
	var err error
	if res.PHValue, err = formFloat(r, "ph_value"); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	if res.ScobyWetWeight, err = formFloat(r, "scoby_wet_weight"); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	if res.ScobyDryWeight, err = formFloat(r, "scoby_dry_weight"); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	res.MicroResults = formStr(r, "micro_results")
	res.HPLCResults = formStr(r, "hplc_results")
	res.TemperatureLoggers = formStr(r, "temperature_logger_ids")
	res.Notes = formStr(r, "notes")

	if _, err := experiments.UpdateResults(r.Context(), userID, sampleID, res); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func SampleActionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/samples/%d", sampleID)

	if _, err := experiments.LogSampleAction(r.Context(), userID, sampleID, r.FormValue("action")); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func SampleDuplicateHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	dup, err := experiments.DuplicateSample(r.Context(), userID, sampleID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	redirectTo(w, r, fmt.Sprintf("/experiments/%d?msg=saved", dup.ExperimentID))
}

func SampleDeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	sampleID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	sample, err := experiments.GetSample(r.Context(), userID, sampleID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	backURL := fmt.Sprintf("/experiments/%d", sample.ExperimentID)

	if err := experiments.DeleteSample(r.Context(), userID, sampleID); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=deleted")
}
