// Package nightscout is a minimal client for the entries API of a Nightscout
// site: reading the newest stored entry and uploading a batch of new ones.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package nightscout

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikebway/libresync/glucose"
)

// The path of the entries API below the site base URL
const entriesPath = "/api/v1/entries"

// DefaultTimeout bounds each request when the caller does not choose a timeout
const DefaultTimeout = 30 * time.Second

var (
	// ErrRemoteUnavailable is returned when the newest stored entry cannot be read
	ErrRemoteUnavailable = errors.New("nightscout unavailable")

	// ErrUploadFailed is returned when a batch of entries is not accepted
	ErrUploadFailed = errors.New("nightscout upload failed")
)

// Error describes a failed request to a Nightscout site. It unwraps to both
// the underlying cause, when there is one, and the sentinel for the operation.
type Error struct {
	Op         string // "read" or "upload"
	StatusCode int    // HTTP status, zero if no response was received
	Body       string // Response body, if any
	Err        error  // Transport or decoding error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("nightscout %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += fmt.Sprintf(": %s", e.Body)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the operation sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	sentinel := ErrRemoteUnavailable
	if e.Op == "upload" {
		sentinel = ErrUploadFailed
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Client talks to the entries API of one Nightscout site.
type Client struct {
	entriesURL   string
	hashedSecret string
	http         *http.Client
}

// NewClient returns a client for the site at baseURL, authenticating with the
// given API secret. A nil httpClient gets a client with DefaultTimeout.
func NewClient(baseURL, apiSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		entriesURL:   strings.TrimRight(baseURL, "/") + entriesPath,
		hashedSecret: HashSecret(apiSecret),
		http:         httpClient,
	}
}

// HashSecret returns the hex SHA-1 digest of the API secret, which is what
// Nightscout expects in the API-SECRET header.
func HashSecret(apiSecret string) string {
	sum := sha1.Sum([]byte(apiSecret))
	return hex.EncodeToString(sum[:])
}

// storedEntry is the part of a stored entry that we need
type storedEntry struct {
	Date float64 `json:"date"`
}

// LatestTimestamp returns the instant of the newest entry the site holds, or
// the Unix epoch if it holds none.
func (c *Client) LatestTimestamp(ctx context.Context) (time.Time, error) {

	status, body, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return time.Time{}, &Error{Op: "read", Err: err}
	}
	if status < 200 || status > 299 {
		return time.Time{}, &Error{Op: "read", StatusCode: status, Body: body}
	}

	// Entries come back newest first
	var entries []storedEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return time.Time{}, &Error{Op: "read", StatusCode: status, Err: fmt.Errorf("could not decode entries: %w", err)}
	}
	if len(entries) == 0 {
		return time.Unix(0, 0), nil
	}
	if entries[0].Date <= 0 {
		return time.Time{}, &Error{Op: "read", StatusCode: status, Err: errors.New("newest entry has no date")}
	}

	return time.UnixMilli(int64(entries[0].Date)), nil
}

// UploadEntries posts the whole batch in a single request. The response body
// is returned on success so that it can be reported.
func (c *Client) UploadEntries(ctx context.Context, entries []glucose.Entry) (string, error) {

	payload, err := json.Marshal(entries)
	if err != nil {
		return "", &Error{Op: "upload", Err: fmt.Errorf("could not encode entries: %w", err)}
	}

	status, body, err := c.do(ctx, http.MethodPost, payload)
	if err != nil {
		return "", &Error{Op: "upload", Err: err}
	}
	if status < 200 || status > 299 {
		return "", &Error{Op: "upload", StatusCode: status, Body: body}
	}

	return body, nil
}

// do sends one request to the entries API and returns the status and body.
func (c *Client) do(ctx context.Context, method string, payload []byte) (int, string, error) {

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.entriesURL, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("API-SECRET", c.hashedSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("could not read response: %w", err)
	}

	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
