package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMain(m *testing.M) {
	if err := Init(); err != nil {
		panic(err)
	}
	m.Run()
}

func TestT(t *testing.T) {
	if got := T("en", "login_title"); got != "Log in" {
		t.Errorf("T(en, login_title) = %q", got)
	}
	if got := T("de", "login_title"); got != "Anmelden" {
		t.Errorf("T(de, login_title) = %q", got)
	}
}

func TestTFallsBackToEnglish(t *testing.T) {
	if got := T("fr", "login_title"); got != "Log in" {
		t.Errorf("unsupported language should fall back to English, got %q", got)
	}
}

func TestTFallsBackToKey(t *testing.T) {
	if got := T("en", "no_such_key_xyz"); got != "no_such_key_xyz" {
		t.Errorf("missing key should echo the key, got %q", got)
	}
}

func TestDetectLanguageHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Language", "de-CH,de;q=0.9,en;q=0.8")
	if got := DetectLanguage(r); got != "de" {
		t.Errorf("DetectLanguage = %q, want de", got)
	}
}

func TestDetectLanguageCookieWins(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Language", "de")
	r.AddCookie(&http.Cookie{Name: "lang", Value: "en"})
	if got := DetectLanguage(r); got != "en" {
		t.Errorf("DetectLanguage = %q, want en (cookie override)", got)
	}
}

func TestDetectLanguageDefault(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Language", "fr-FR,fr;q=0.9")
	if got := DetectLanguage(r); got != "en" {
		t.Errorf("DetectLanguage = %q, want en", got)
	}
}
