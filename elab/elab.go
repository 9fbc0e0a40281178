// Package elab is a minimal client for the elabFTW v2 REST API, covering
// just what the sync flow needs: create an experiment, replace its body,
// and check that an API key works.
package elab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAuth means the remote rejected the API key.
	ErrAuth = errors.New("elabftw: API key rejected")
	// ErrRemoteValidation means the remote rejected the request content.
	ErrRemoteValidation = errors.New("elabftw: request rejected")
	// ErrUnavailable covers transport failures and server-side errors.
	ErrUnavailable = errors.New("elabftw: service unavailable")
)

// Tags attached to every experiment created through this app.
var experimentTags = []string{"KombuchaELN", "API"}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the API rooted at baseURL
// (e.g. https://elabftw.example.org/api/v2).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateExperiment creates a new experiment with the given title and
// returns its remote id, taken from the Location header.
func (c *Client) CreateExperiment(ctx context.Context, apiKey, title string) (int64, error) {
	payload := map[string]any{
		"title":        title,
		"tags":         experimentTags,
		"content_type": 1,
	}
	resp, err := c.do(ctx, apiKey, http.MethodPost, "/experiments", payload)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return 0, err
	}

	id, err := idFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// UpdateExperiment replaces the title and HTML body of an existing
// experiment, so local renames reach the remote entry on re-sync.
func (c *Client) UpdateExperiment(ctx context.Context, apiKey string, elabID int64, title, htmlBody string) error {
	payload := map[string]any{"title": title, "body": htmlBody}
	path := fmt.Sprintf("/experiments/%d", elabID)

	resp, err := c.do(ctx, apiKey, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusOK)
}

// VerifyKey checks that the API key is accepted by the remote.
func (c *Client) VerifyKey(ctx context.Context, apiKey string) error {
	resp, err := c.do(ctx, apiKey, http.MethodGet, "/info", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusOK)
}

// do sends one API request. The key goes into the Authorization header
// and must never appear in errors or logs.
func (c *Client) do(ctx context.Context, apiKey, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s failed", ErrUnavailable, method, path)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRemoteValidation, remoteMessage(resp.Body))
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
}

// remoteMessage extracts the error description from an elabFTW response
// body, falling back to the raw (truncated) body.
func remoteMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error details"
	}

	var payload struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Description != "" {
			return payload.Description
		}
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// idFromLocation parses the experiment id from a Location header such as
// https://host/api/v2/experiments/123.
func idFromLocation(location string) (int64, error) {
	if location == "" {
		return 0, errors.New("response carries no Location header")
	}
	idx := strings.LastIndex(location, "/")
	id, err := strconv.ParseInt(location[idx+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("cannot parse experiment id from Location %q", location)
	}
	return id, nil
}
