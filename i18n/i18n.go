// Package i18n provides the translation catalogs for the web UI.
// Catalogs are compiled into the binary; English is the fallback.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed locales/*.json
var localesFS embed.FS

const defaultLang = "en"

var catalogs = map[string]map[string]string{}

// Init parses the embedded locale files. Must run before T is used.
func Init() error {
	entries, err := fs.ReadDir(localesFS, "locales")
	if err != nil {
		return fmt.Errorf("read locales: %w", err)
	}
	for _, entry := range entries {
		lang := strings.TrimSuffix(entry.Name(), ".json")
		data, err := localesFS.ReadFile("locales/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read locale %s: %w", lang, err)
		}
		catalog := map[string]string{}
		if err := json.Unmarshal(data, &catalog); err != nil {
			return fmt.Errorf("parse locale %s: %w", lang, err)
		}
		catalogs[lang] = catalog
	}
	if _, ok := catalogs[defaultLang]; !ok {
		return fmt.Errorf("default locale %q missing", defaultLang)
	}
	return nil
}

// T translates key into lang, falling back to English and finally to the
// key itself. Extra args are interpolated with fmt.Sprintf.
func T(lang, key string, args ...any) string {
	msg, ok := catalogs[lang][key]
	if !ok {
		msg, ok = catalogs[defaultLang][key]
	}
	if !ok {
		msg = key
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Available lists the loaded locale codes.
func Available() []string {
	langs := make([]string, 0, len(catalogs))
	for lang := range catalogs {
		langs = append(langs, lang)
	}
	return langs
}

// DetectLanguage picks the UI language for a request: an explicit lang
// cookie wins, then the first supported Accept-Language entry.
func DetectLanguage(r *http.Request) string {
	if cookie, err := r.Cookie("lang"); err == nil {
		if _, ok := catalogs[cookie.Value]; ok {
			return cookie.Value
		}
	}

	header := r.Header.Get("Accept-Language")
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if len(tag) >= 2 {
			tag = strings.ToLower(tag[:2])
		}
		if _, ok := catalogs[tag]; ok {
			return tag
		}
	}
	return defaultLang
}
