package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"fermlog/auth"
	"fermlog/experiments"
	"fermlog/i18n"
	"fermlog/models"
)

func TimepointListHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// Older experiments may predate sampling plans.
	if err := experiments.EnsureDefaultTimepoints(r.Context(), userID, experimentID); err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	exp, err := experiments.Get(r.Context(), userID, experimentID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	timepoints, err := experiments.ListTimepoints(r.Context(), userID, experimentID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	var currentID int64
	if exp.CurrentTimepointID != nil {
		currentID = *exp.CurrentTimepointID
	}

	// Completed timepoints get a marker; advancing unlocks once the
	// current one is done.
	type timepointRow struct {
		models.Timepoint
		Completed bool
	}
	rows := make([]timepointRow, 0, len(timepoints))
	currentDone := false
	for _, tp := range timepoints {
		done, err := experiments.TimepointCompleted(r.Context(), userID, tp.ID)
		if err != nil {
			handleDomainError(w, r, err, "/experiments")
			return
		}
		if tp.ID == currentID {
			currentDone = done
		}
		rows = append(rows, timepointRow{Timepoint: tp, Completed: done})
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "timepoints", map[string]any{
		"Experiment":  exp,
		"Timepoints":  rows,
		"CurrentID":   currentID,
		"CurrentDone": currentDone,
		"Msg":         msg,
		"Error":       errMsg,
	})
}

func TimepointAddHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/experiments/%d/timepoints", experimentID)

	hours, err := formFloat(r, "hours")
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	var h float64
	if hours != nil {
		h = *hours
	}

	_, err = experiments.AddTimepoint(r.Context(), userID, experimentID,
		r.FormValue("name"), r.FormValue("description"), h)
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func TimepointDeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	timepointID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	tp, err := experiments.GetTimepoint(r.Context(), userID, timepointID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	backURL := fmt.Sprintf("/experiments/%d/timepoints", tp.ExperimentID)

	if err := experiments.DeleteTimepoint(r.Context(), userID, timepointID); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=deleted")
}

func TimepointSetCurrentHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/experiments/%d/timepoints", experimentID)

	timepointID, ok := formID(r, "timepoint_id")
	if !ok {
		handleDomainError(w, r, &models.ValidationError{Field: "timepoint_id", Reason: "missing"}, backURL)
		return
	}

	if err := experiments.SetCurrentTimepoint(r.Context(), userID, experimentID, timepointID); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func TimepointAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	lang := i18n.DetectLanguage(r)
	backURL := fmt.Sprintf("/experiments/%d/timepoints", experimentID)

	_, err := experiments.AdvanceTimepoint(r.Context(), userID, experimentID)
	if errors.Is(err, experiments.ErrNoNextTimepoint) {
		redirectTo(w, r, backURL+"?error="+url.QueryEscape(i18n.T(lang, "no_next_timepoint")))
		return
	}
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func MeasurementGridHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	detail, err := experiments.GetDetail(r.Context(), userID, experimentID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	rows, err := experiments.MeasurementMatrix(r.Context(), userID, experimentID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "measurements", map[string]any{
		"Experiment": detail.Experiment,
		"Samples":    detail.Samples,
		"Rows":       rows,
		"Msg":        msg,
		"Error":      errMsg,
	})
}

func MeasurementRecordHandler(w http.ResponseWriter, r *http.Request) {
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
	backURL := fmt.Sprintf("/experiments/%d/measurements", sample.ExperimentID)

	timepointID, ok := formID(r, "timepoint_id")
	if !ok {
		handleDomainError(w, r, &models.ValidationError{Field: "timepoint_id", Reason: "missing"}, backURL)
		return
	}
	ph, err := formFloat(r, "ph_value")
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}

	_, err = experiments.RecordMeasurement(r.Context(), userID, sampleID,
		timepointID, ph, formStr(r, "note"))
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func MeasurementDoneHandler(w http.ResponseWriter, r *http.Request) {
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
	backURL := fmt.Sprintf("/experiments/%d/measurements", sample.ExperimentID)

	timepointID, ok := formID(r, "timepoint_id")
	if !ok {
		handleDomainError(w, r, &models.ValidationError{Field: "timepoint_id", Reason: "missing"}, backURL)
		return
	}
	done := r.FormValue("done") == "1" || r.FormValue("done") == "on"

	if err := experiments.MarkMeasurementDone(r.Context(), userID, sampleID, timepointID, done); err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}
