// Package handlers wires the HTTP routes to the domain packages and
// renders the server-side templates.
package handlers

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"

	"fermlog/auth"
	"fermlog/config"
	"fermlog/experiments"
	"fermlog/i18n"
	"fermlog/models"
	"fermlog/templates"
)

// notebook is the remote notebook client used by the sync handlers.
// RegisterHandlers sets it; tests install a fake.
var notebook experiments.RemoteNotebookClient

var (
	templatesOnce sync.Once
	pages         map[string]*template.Template
)

var pageNames = []string{
	"login", "register", "experiments", "experiment_new", "experiment",
	"sample", "timepoints", "measurements", "account", "report",
}

var funcMap = template.FuncMap{
	"t": i18n.T,
	"num": func(f *float64) string {
		if f == nil {
			return ""
		}
		return strconv.FormatFloat(*f, 'f', -1, 64)
	},
	"str": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"syncKey": func(status string) string {
		switch status {
		case models.SyncSynced:
			return "sync_synced"
		case models.SyncFailed:
			return "sync_failed"
		default:
			return "sync_not_synced"
		}
	},
}

func initTemplates() {
	templatesOnce.Do(func() {
		pages = make(map[string]*template.Template, len(pageNames))
		for _, name := range pageNames {
			pages[name] = template.Must(template.New("layout.html").
				Funcs(funcMap).
				ParseFS(templates.FS, "layout.html", name+".html"))
		}
	})
}

var (
	loginLimiter    = newRateLimiter(5, 15*time.Minute)
	registerLimiter = newRateLimiter(10, time.Hour)
)

// RegisterHandlers mounts every route on mux. The client is used for all
// elabFTW traffic.
func RegisterHandlers(mux *http.ServeMux, client experiments.RemoteNotebookClient) {
	initTemplates()
	notebook = client

	mux.HandleFunc("GET /{$}", IndexHandler)
	mux.HandleFunc("GET /healthz", HealthHandler)

	mux.HandleFunc("GET /login", LoginPageHandler)
	mux.HandleFunc("POST /login", LoginHandler)
	mux.HandleFunc("GET /register", RegisterPageHandler)
	mux.HandleFunc("POST /register", RegisterHandler)
	mux.HandleFunc("POST /logout", LogoutHandler)

	mux.HandleFunc("GET /experiments", requireLogin(ExperimentListHandler))
	mux.HandleFunc("GET /experiments/new", requireLogin(ExperimentNewPageHandler))
	mux.HandleFunc("POST /experiments", requireLogin(ExperimentCreateHandler))
	mux.HandleFunc("GET /experiments/{id}", requireLogin(ExperimentDetailHandler))
	mux.HandleFunc("POST /experiments/{id}", requireLogin(ExperimentUpdateHandler))
	mux.HandleFunc("POST /experiments/{id}/delete", requireLogin(ExperimentDeleteHandler))
	mux.HandleFunc("POST /experiments/{id}/sync", requireLogin(SyncHandler))
	mux.HandleFunc("GET /experiments/{id}/report", requireLogin(ReportHandler))

	mux.HandleFunc("POST /experiments/{id}/samples", requireLogin(SampleAddHandler))
	mux.HandleFunc("GET /samples/{id}", requireLogin(SamplePageHandler))
	mux.HandleFunc("POST /samples/{id}", requireLogin(SampleUpdateHandler))
	mux.HandleFunc("POST /samples/{id}/results", requireLogin(SampleResultsHandler))
	mux.HandleFunc("POST /samples/{id}/action", requireLogin(SampleActionHandler))
	mux.HandleFunc("POST /samples/{id}/duplicate", requireLogin(SampleDuplicateHandler))
	mux.HandleFunc("POST /samples/{id}/delete", requireLogin(SampleDeleteHandler))

	mux.HandleFunc("GET /experiments/{id}/timepoints", requireLogin(TimepointListHandler))
	mux.HandleFunc("POST /experiments/{id}/timepoints", requireLogin(TimepointAddHandler))
	mux.HandleFunc("POST /experiments/{id}/timepoints/current", requireLogin(TimepointSetCurrentHandler))
	mux.HandleFunc("POST /experiments/{id}/timepoints/advance", requireLogin(TimepointAdvanceHandler))
	mux.HandleFunc("POST /timepoints/{id}/delete", requireLogin(TimepointDeleteHandler))

	mux.HandleFunc("GET /experiments/{id}/measurements", requireLogin(MeasurementGridHandler))
	mux.HandleFunc("POST /samples/{id}/measurements", requireLogin(MeasurementRecordHandler))
	mux.HandleFunc("POST /samples/{id}/measurements/done", requireLogin(MeasurementDoneHandler))

	mux.HandleFunc("GET /account", requireLogin(AccountHandler))
	mux.HandleFunc("POST /account/apikey", requireLogin(APIKeySaveHandler))
	mux.HandleFunc("POST /account/apikey/test", requireLogin(APIKeyTestHandler))
	mux.HandleFunc("POST /account/password", requireLogin(ChangePasswordHandler))
}

// requireLogin redirects anonymous requests to the login page.
func requireLogin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetUserID(r); !ok {
			redirectTo(w, r, "/login")
			return
		}
		next(w, r)
	}
}

// redirectTo issues an HX-Redirect for HTMX requests and a normal 303
// otherwise.
func redirectTo(w http.ResponseWriter, r *http.Request, url string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// renderTemplate executes a page inside the layout, with the fields every
// template expects already filled in.
func renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = config.AppConfig.AppName
	data["Lang"] = i18n.DetectLanguage(r)
	data["CSRFField"] = csrf.TemplateField(r)
	if username, ok := auth.GetUsername(r); ok {
		data["Username"] = username
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page, ok := pages[name]
	if !ok {
		slog.Error("unknown template", "name", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := page.Execute(w, data); err != nil {
		slog.Error("render template", "name", name, "error", err)
	}
}

func IndexHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUserID(r); ok {
		http.Redirect(w, r, "/experiments", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, "login", nil)
}

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	ip := clientIP(r)

	if loginLimiter.tooMany(ip) {
		w.WriteHeader(http.StatusTooManyRequests)
		renderTemplate(w, r, "login", map[string]any{"Error": i18n.T(lang, "error_rate_limited")})
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	user, masterKey, err := auth.Login(r.Context(), username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		loginLimiter.fail(ip)
		w.WriteHeader(http.StatusUnauthorized)
		renderTemplate(w, r, "login", map[string]any{
			"Error":        i18n.T(lang, "error_invalid_credentials"),
			"FormUsername": username,
		})
		return
	}
	if err != nil {
		slog.Error("login", "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
		return
	}

	loginLimiter.reset(ip)
	if err := auth.SetSession(w, r, user, masterKey); err != nil {
		slog.Error("set session", "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
		return
	}
	slog.Info("user logged in", "user_id", user.ID)
	redirectTo(w, r, "/experiments")
}

func RegisterPageHandler(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, "register", registerPageData(""))
}

func RegisterHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	ip := clientIP(r)

	if registerLimiter.tooMany(ip) {
		w.WriteHeader(http.StatusTooManyRequests)
		renderTemplate(w, r, "register", registerPageData(i18n.T(lang, "error_rate_limited")))
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	confirm := r.FormValue("password_confirm")

	fail := func(status int, msg string) {
		registerLimiter.fail(ip)
		w.WriteHeader(status)
		data := registerPageData(msg)
		data["FormUsername"] = username
		renderTemplate(w, r, "register", data)
	}

	if config.AppConfig.RegistrationCaptcha {
		if !captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
			fail(http.StatusBadRequest, i18n.T(lang, "error_captcha"))
			return
		}
	}
	if password != confirm {
		fail(http.StatusBadRequest, i18n.T(lang, "error_password_mismatch"))
		return
	}

	user, err := auth.Register(r.Context(), username, password)
	var verr *models.ValidationError
	switch {
	case errors.Is(err, auth.ErrDuplicateUser):
		fail(http.StatusConflict, i18n.T(lang, "error_duplicate_user"))
		return
	case errors.As(err, &verr):
		if verr.Field == "password" {
			fail(http.StatusBadRequest, i18n.T(lang, "error_password_short"))
		} else {
			fail(http.StatusBadRequest, verr.Error())
		}
		return
	case err != nil:
		slog.Error("register", "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
		return
	}

	registerLimiter.reset(ip)
	_, masterKey, err := auth.Login(r.Context(), user.Username, password)
	if err != nil {
		redirectTo(w, r, "/login")
		return
	}
	if err := auth.SetSession(w, r, user, masterKey); err != nil {
		slog.Error("set session", "error", err)
		http.Error(w, i18n.T(lang, "error_server"), http.StatusInternalServerError)
		return
	}
	slog.Info("user registered", "user_id", user.ID)
	redirectTo(w, r, "/experiments")
}

func registerPageData(errMsg string) map[string]any {
	data := map[string]any{}
	if errMsg != "" {
		data["Error"] = errMsg
	}
	if config.AppConfig.RegistrationCaptcha {
		data["CaptchaID"] = captcha.New()
	}
	return data
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := auth.ClearSession(w, r); err != nil {
		slog.Error("clear session", "error", err)
	}
	redirectTo(w, r, "/login")
}

// clientIP prefers the first X-Forwarded-For hop, for deployments behind
// a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// formFloat reads an optional float field. Empty means not entered.
func formFloat(r *http.Request, field string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &models.ValidationError{Field: field, Reason: "must be a number"}
	}
	return &f, nil
}

// formStr reads an optional text field. Empty means not entered.
func formStr(r *http.Request, field string) *string {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil
	}
	return &raw
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func formID(r *http.Request, field string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.FormValue(field)), 10, 64)
	return id, err == nil && id > 0
}
