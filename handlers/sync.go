package handlers

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"fermlog/auth"
	"fermlog/config"
	"fermlog/elab"
	"fermlog/experiments"
	"fermlog/report"
)

// SyncHandler pushes one experiment to elabFTW. Failures land back on
// the experiment page with an error code the page translates.
func SyncHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	experimentID, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backURL := fmt.Sprintf("/experiments/%d", experimentID)

	masterKey, ok := auth.GetMasterKey(r)
	if !ok {
		redirectTo(w, r, "/login")
		return
	}

	ownKey := true
	apiKey, err := auth.APIKey(r.Context(), userID, masterKey)
	if errors.Is(err, auth.ErrNoAPIKey) {
		// Fall back to the instance-wide key when the user has none.
		if config.AppConfig.ElabKey == "" {
			redirectTo(w, r, backURL+"?error=no_key")
			return
		}
		apiKey, ownKey = config.AppConfig.ElabKey, false
	} else if err != nil {
		slog.Error("load API key", "user_id", userID, "error", err)
		redirectTo(w, r, backURL+"?error=failed")
		return
	}

	_, err = experiments.Sync(r.Context(), notebook, userID, experimentID, apiKey)
	switch {
	case err == nil:
		redirectTo(w, r, backURL+"?msg=synced")
	case errors.Is(err, experiments.ErrNotFound), errors.Is(err, experiments.ErrForbidden):
		handleDomainError(w, r, err, backURL)
	case errors.Is(err, elab.ErrAuth):
		if ownKey {
			if err := auth.MarkAPIKeyInvalid(r.Context(), userID); err != nil {
				slog.Error("flag API key", "user_id", userID, "error", err)
			}
		}
		redirectTo(w, r, backURL+"?error=auth")
	case errors.Is(err, elab.ErrRemoteValidation):
		redirectTo(w, r, backURL+"?error=remote_validation")
	case errors.Is(err, elab.ErrUnavailable):
		redirectTo(w, r, backURL+"?error=network")
	default:
		redirectTo(w, r, backURL+"?error=failed")
	}
}

// ReportHandler shows the report exactly as it would be pushed.
func ReportHandler(w http.ResponseWriter, r *http.Request) {
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

	html, err := report.Render(report.Input{
		Experiment:   detail.Experiment,
		Samples:      detail.Samples,
		Timepoints:   detail.Timepoints,
		Measurements: detail.Measurements,
	})
	if err != nil {
		handleDomainError(w, r, err, fmt.Sprintf("/experiments/%d", experimentID))
		return
	}

	renderTemplate(w, r, "report", map[string]any{
		"Experiment": detail.Experiment,
		// Render already escaped all user input.
		"ReportHTML": template.HTML(html),
	})
}
