package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
)

type Config struct {
	AppName    string `json:"app_name"`
	ListenIP   string `json:"listen_ip"`
	ListenPort int    `json:"listen_port"`
	SessionKey string `json:"session_key"`
	DBPath     string `json:"db_path"`

	// elabFTW integration. ElabKey is the instance-wide fallback key; each
	// user normally stores their own key, which takes precedence.
	ElabHost           string `json:"elab_host"`
	ElabKey            string `json:"elab_key"`
	ElabTimeoutSeconds int    `json:"elab_timeout_seconds"`

	// RegistrationCaptcha gates the captcha challenge on the signup form.
	// Disabled in tests.
	RegistrationCaptcha bool `json:"registration_captcha"`
}

var AppConfig Config

const defaultElabHost = "https://elabftw.lsfm.zhaw.ch/api/v2"

func LoadConfig(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&AppConfig); err != nil {
		return err
	}

	// Environment overrides.
	if envKey := os.Getenv("FERMLOG_SESSION_KEY"); envKey != "" {
		AppConfig.SessionKey = envKey
	}
	// elabftw_key is the conventional variable name used by elabFTW API
	// tooling, kept verbatim so existing lab setups work unchanged.
	if envKey := os.Getenv("elabftw_key"); envKey != "" {
		AppConfig.ElabKey = envKey
	}

	if AppConfig.AppName == "" {
		AppConfig.AppName = "Kombucha ELN"
	}
	if AppConfig.ListenPort == 0 {
		AppConfig.ListenPort = 8080
	}
	if AppConfig.DBPath == "" {
		AppConfig.DBPath = "./kombucha_eln.db"
	}
	if AppConfig.ElabHost == "" {
		AppConfig.ElabHost = defaultElabHost
	}
	if AppConfig.ElabTimeoutSeconds <= 0 {
		AppConfig.ElabTimeoutSeconds = 15
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	// so the app still starts; sessions then do not survive a restart.
	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		slog.Warn("no session key configured, generating a random one; sessions will be invalidated on restart")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		AppConfig.SessionKey = hex.EncodeToString(randomKey)
	}

	return nil
}
