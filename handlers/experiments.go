package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"fermlog/auth"
	"fermlog/experiments"
	"fermlog/i18n"
	"fermlog/models"
)

// Codes carried in ?msg= / ?error= after a redirect, mapped to catalog
// keys when rendering.
var flashKeys = map[string]string{
	"synced":           "flash_synced",
	"saved":            "flash_saved",
	"deleted":          "flash_deleted",
	"key_saved":        "flash_key_saved",
	"key_removed":      "flash_key_removed",
	"key_valid":        "flash_key_valid",
	"password_changed": "flash_password_changed",
}

var errorKeys = map[string]string{
	"no_key":            "error_no_api_key",
	"auth":              "error_remote_auth",
	"network":           "error_network",
	"remote_validation": "error_remote_validation",
	"failed":            "error_server",
}

func flashFromQuery(r *http.Request, lang string) (msg, errMsg string) {
	if code := r.URL.Query().Get("msg"); code != "" {
		if key, ok := flashKeys[code]; ok {
			msg = i18n.T(lang, key)
		}
	}
	if code := r.URL.Query().Get("error"); code != "" {
		if key, ok := errorKeys[code]; ok {
			errMsg = i18n.T(lang, key)
		} else {
			errMsg = code
		}
	}
	return msg, errMsg
}

// handleDomainError writes the response for a failed domain call.
// Validation problems bounce back to backURL so the page can show them;
// everything else gets its status code.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error, backURL string) {
	lang := i18n.DetectLanguage(r)
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		redirectTo(w, r, backURL+"?error="+url.QueryEscape(verr.Error()))
	case errors.Is(err, experiments.ErrNotFound):
		http.Error(w, i18n.T(lang, "error_not_found"), http.StatusNotFound)
	case errors.Is(err, experiments.ErrForbidden):
		http.Error(w, i18n.T(lang, "error_forbidden"), http.StatusForbidden)
	default:
		slog.Error("domain call failed", "path", r.URL.Path, "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
	}
}

func ExperimentListHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)

	list, err := experiments.ListByUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "experiments", map[string]any{
		"Experiments": list,
		"Msg":         msg,
		"Error":       errMsg,
	})
}

func ExperimentNewPageHandler(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, "experiment_new", map[string]any{"SampleCount": 4})
}

func ExperimentCreateHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)

	title := r.FormValue("title")
	notes := r.FormValue("notes")
	sampleCount, err := strconv.Atoi(r.FormValue("sample_count"))
	if err != nil {
		sampleCount = 0
	}

	exp, err := experiments.Create(r.Context(), userID, title, notes, sampleCount)
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		w.WriteHeader(http.StatusBadRequest)
		renderTemplate(w, r, "experiment_new", map[string]any{
			"Error":       verr.Error(),
			"Title":       title,
			"Notes":       notes,
			"SampleCount": sampleCount,
		})
		return
	}
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	slog.Info("experiment created", "experiment_id", exp.ID, "user_id", userID)
	redirectTo(w, r, fmt.Sprintf("/experiments/%d", exp.ID))
}

func ExperimentDetailHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	id, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	detail, err := experiments.GetDetail(r.Context(), userID, id)
	if err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}

	current := ""
	if detail.Experiment.CurrentTimepointID != nil {
		for _, tp := range detail.Timepoints {
			if tp.ID == *detail.Experiment.CurrentTimepointID {
				current = tp.Name
			}
		}
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "experiment", map[string]any{
		"Experiment":       detail.Experiment,
		"Samples":          detail.Samples,
		"Timepoints":       detail.Timepoints,
		"CurrentTimepoint": current,
		"Msg":              msg,
		"Error":            errMsg,
	})
}

func ExperimentUpdateHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	id, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	backURL := fmt.Sprintf("/experiments/%d", id)
	err := experiments.UpdateInfo(r.Context(), userID, id, r.FormValue("title"), r.FormValue("notes"))
	if err != nil {
		handleDomainError(w, r, err, backURL)
		return
	}
	redirectTo(w, r, backURL+"?msg=saved")
}

func ExperimentDeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	id, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := experiments.Delete(r.Context(), userID, id); err != nil {
		handleDomainError(w, r, err, "/experiments")
		return
	}
	slog.Info("experiment deleted", "experiment_id", id, "user_id", userID)
	redirectTo(w, r, "/experiments?msg=deleted")
}
