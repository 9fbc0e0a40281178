// Package auth handles accounts, sessions and the encrypted elabFTW
// API key vault.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/mattn/go-sqlite3"

	"fermlog/config"
	"fermlog/crypto"
	"fermlog/db"
	"fermlog/models"
)

const SessionName = "fermlog-session"

var (
	ErrDuplicateUser      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoAPIKey           = errors.New("no API key stored")
)

// Store holds the cookie session store. InitStore must run after the
// configuration is loaded.
var Store *sessions.CookieStore

// InitStore builds the session store from the configured session key.
// Distinct hashes of the key are used for signing and encryption.
func InitStore() {
	authKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "auth"))
	encKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "encryption"))

	Store = sessions.NewCookieStore(authKey[:], encKey[:])
	Store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   config.AppConfig.ListenPort != 8080,
	}
}

// SetSession stores the authenticated user and their master key in the
// session cookie. The master key never touches the database.
func SetSession(w http.ResponseWriter, r *http.Request, user *models.User, masterKey []byte) error {
	session, _ := Store.Get(r, SessionName)
	session.Values["user_id"] = user.ID
	session.Values["username"] = user.Username
	session.Values["master_key"] = base64.StdEncoding.EncodeToString(masterKey)
	return session.Save(r, w)
}

// ClearSession drops the session cookie.
func ClearSession(w http.ResponseWriter, r *http.Request) error {
	session, _ := Store.Get(r, SessionName)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// GetUserID returns the logged-in user's id, or false when the request
// carries no valid session.
func GetUserID(r *http.Request) (int64, bool) {
	session, err := Store.Get(r, SessionName)
	if err != nil {
		return 0, false
	}
	id, ok := session.Values["user_id"].(int64)
	return id, ok
}

// GetUsername returns the logged-in user's name.
func GetUsername(r *http.Request) (string, bool) {
	session, err := Store.Get(r, SessionName)
	if err != nil {
		return "", false
	}
	name, ok := session.Values["username"].(string)
	return name, ok
}

// GetMasterKey recovers the session master key used to decrypt the
// stored API key.
func GetMasterKey(r *http.Request) ([]byte, bool) {
	session, err := Store.Get(r, SessionName)
	if err != nil {
		return nil, false
	}
	encoded, ok := session.Values["master_key"].(string)
	if !ok {
		return nil, false
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != crypto.MasterKeySize {
		return nil, false
	}
	return key, true
}

// ValidatePassword enforces the account password policy.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return &models.ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	return nil
}

// Register creates a new account. The username must be unused.
func Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &models.ValidationError{Field: "username", Reason: "must not be empty"}
	}
	if len(username) > 64 {
		return nil, &models.ValidationError{Field: "username", Reason: "must be at most 64 characters"}
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := db.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	res, err := db.DB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, salt) VALUES (?, ?, ?)",
		username, hash, salt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return UserByID(ctx, id)
}

// Login checks the credentials and returns the user together with the
// derived master key. Unknown usernames burn a dummy hash check so the
// response time does not reveal whether the account exists.
func Login(ctx context.Context, username, password string) (*models.User, []byte, error) {
	user, err := userByName(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		db.DummyCheck(password)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if !db.CheckPasswordHash(password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	masterKey, err := masterKeyFor(user, password)
	if err != nil {
		return nil, nil, err
	}
	return user, masterKey, nil
}

// UserByID loads one user row.
func UserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, salt, api_key_encrypted, api_key_invalid, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func userByName(ctx context.Context, username string) (*models.User, error) {
	row := db.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, salt, api_key_encrypted, api_key_invalid, created_at
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Salt,
		&u.APIKeyEncrypted, &u.APIKeyInvalid, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func masterKeyFor(user *models.User, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(user.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt for user %d: %w", user.ID, err)
	}
	return crypto.DeriveKey(password, salt), nil
}

// SetAPIKey encrypts and stores the user's elabFTW API key, clearing any
// previous invalid flag. An empty key removes the stored one.
func SetAPIKey(ctx context.Context, userID int64, apiKey string, masterKey []byte) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		_, err := db.DB.ExecContext(ctx,
			"UPDATE users SET api_key_encrypted = NULL, api_key_invalid = 0 WHERE id = ?",
			userID,
		)
		if err != nil {
			return fmt.Errorf("clear API key: %w", err)
		}
		return nil
	}

	sealed, err := crypto.Encrypt(apiKey, masterKey)
	if err != nil {
		return fmt.Errorf("encrypt API key: %w", err)
	}

	_, err = db.DB.ExecContext(ctx,
		"UPDATE users SET api_key_encrypted = ?, api_key_invalid = 0 WHERE id = ?",
		sealed, userID,
	)
	if err != nil {
		return fmt.Errorf("store API key: %w", err)
	}
	return nil
}

// APIKey decrypts the stored elabFTW API key with the session master key.
func APIKey(ctx context.Context, userID int64, masterKey []byte) (string, error) {
	user, err := UserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasAPIKey() {
		return "", ErrNoAPIKey
	}

	key, err := crypto.Decrypt(*user.APIKeyEncrypted, masterKey)
	if err != nil {
		return "", fmt.Errorf("decrypt API key: %w", err)
	}
	return key, nil
}

// MarkAPIKeyInvalid flags the stored key after the remote rejected it.
// The key stays stored so the user can see that one was set.
func MarkAPIKeyInvalid(ctx context.Context, userID int64) error {
	_, err := db.DB.ExecContext(ctx,
		"UPDATE users SET api_key_invalid = 1 WHERE id = ?", userID)
	return err
}

// ChangePassword verifies the current password, re-hashes with a fresh
// salt and re-encrypts the stored API key under the new master key.
// It returns the new master key for the session.
func ChangePassword(ctx context.Context, userID int64, current, newPassword string) ([]byte, error) {
	user, err := UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !db.CheckPasswordHash(current, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	var apiKey string
	if user.HasAPIKey() {
		oldKey, err := masterKeyFor(user, current)
		if err != nil {
			return nil, err
		}
		apiKey, err = crypto.Decrypt(*user.APIKeyEncrypted, oldKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt API key: %w", err)
		}
	}

	hash, err := db.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, err
	}
	newKey := crypto.DeriveKey(newPassword, saltBytes)

	var sealed *string
	if apiKey != "" {
		s, err := crypto.Encrypt(apiKey, newKey)
		if err != nil {
			return nil, fmt.Errorf("re-encrypt API key: %w", err)
		}
		sealed = &s
	}

	_, err = db.DB.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, salt = ?, api_key_encrypted = ? WHERE id = ?",
		hash, salt, sealed, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	return newKey, nil
}
