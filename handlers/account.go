package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"fermlog/auth"
	"fermlog/elab"
	"fermlog/i18n"
	"fermlog/models"
)

func AccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)

	user, err := auth.UserByID(r.Context(), userID)
	if err != nil {
		slog.Error("load user", "user_id", userID, "error", err)
		http.Error(w, i18n.T(i18n.DetectLanguage(r), "error_server"), http.StatusInternalServerError)
		return
	}

	lang := i18n.DetectLanguage(r)
	msg, errMsg := flashFromQuery(r, lang)
	renderTemplate(w, r, "account", map[string]any{
		"User":  user,
		"Msg":   msg,
		"Error": errMsg,
	})
}

func APIKeySaveHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)

	masterKey, ok := auth.GetMasterKey(r)
	if !ok {
		// Session predates the key vault; a fresh login fixes it.
		redirectTo(w, r, "/login")
		return
	}

	apiKey := r.FormValue("api_key")
	if err := auth.SetAPIKey(r.Context(), userID, apiKey, masterKey); err != nil {
		slog.Error("store API key", "user_id", userID, "error", err)
		http.Error(w, i18n.T(i18n.DetectLanguage(r), "error_server"), http.StatusInternalServerError)
		return
	}
	if strings.TrimSpace(apiKey) == "" {
		slog.Info("API key removed", "user_id", userID)
		redirectTo(w, r, "/account?msg=key_removed")
		return
	}
	slog.Info("API key stored", "user_id", userID)
	redirectTo(w, r, "/account?msg=key_saved")
}

func APIKeyTestHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)

	masterKey, ok := auth.GetMasterKey(r)
	if !ok {
		redirectTo(w, r, "/login")
		return
	}

	apiKey, err := auth.APIKey(r.Context(), userID, masterKey)
	if errors.Is(err, auth.ErrNoAPIKey) {
		redirectTo(w, r, "/account?error=no_key")
		return
	}
	if err != nil {
		slog.Error("load API key", "user_id", userID, "error", err)
		http.Error(w, i18n.T(i18n.DetectLanguage(r), "error_server"), http.StatusInternalServerError)
		return
	}

	switch err := notebook.VerifyKey(r.Context(), apiKey); {
	case err == nil:
		redirectTo(w, r, "/account?msg=key_valid")
	case errors.Is(err, elab.ErrAuth):
		if err := auth.MarkAPIKeyInvalid(r.Context(), userID); err != nil {
			slog.Error("flag API key", "user_id", userID, "error", err)
		}
		redirectTo(w, r, "/account?error=auth")
	default:
		redirectTo(w, r, "/account?error=network")
	}
}

func ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	lang := i18n.DetectLanguage(r)

	newPassword := r.FormValue("new_password")
	if newPassword != r.FormValue("new_password_confirm") {
		redirectTo(w, r, "/account?error="+url.QueryEscape(i18n.T(lang, "error_password_mismatch")))
		return
	}

	newKey, err := auth.ChangePassword(r.Context(), userID, r.FormValue("current_password"), newPassword)
	var verr *models.ValidationError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		redirectTo(w, r, "/account?error="+url.QueryEscape(i18n.T(lang, "error_invalid_credentials")))
		return
	case errors.As(err, &verr):
		redirectTo(w, r, "/account?error="+url.QueryEscape(i18n.T(lang, "error_password_short")))
		return
	case err != nil:
		slog.Error("change password", "user_id", userID, "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
		return
	}

	// The master key changed with the password; refresh the session.
	user, err := auth.UserByID(r.Context(), userID)
	if err == nil {
		if err := auth.SetSession(w, r, user, newKey); err != nil {
			slog.Error("refresh session", "user_id", userID, "error", err)
		}
	}
	slog.Info("password changed", "user_id", userID)
	redirectTo(w, r, "/account?msg=password_changed")
}
