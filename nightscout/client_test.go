package nightscout

// Unit tests for the Nightscout client, run against a fake site.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/mikebway/libresync/glucose"
)

// The secret used by every test
const testSecret = "correct horse battery"

// fakeSite is a stand in Nightscout entries API.
type fakeSite struct {
	getStatus  int
	getBody    string
	postStatus int
	postBody   string
	posted     []map[string]interface{}
	posts      int
}

// start serves the fake site and returns a client for it.
func (f *fakeSite) start(t *testing.T) *Client {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("API-SECRET") != HashSecret(testSecret) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api.HandleFunc("/entries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(f.getStatus)
		_, _ = io.WriteString(w, f.getBody)
	}).Methods(http.MethodGet)

	api.HandleFunc("/entries", func(w http.ResponseWriter, r *http.Request) {
		f.posts++
		if err := json.NewDecoder(r.Body).Decode(&f.posted); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(f.postStatus)
		_, _ = io.WriteString(w, f.postBody)
	}).Methods(http.MethodPost).Headers("Content-Type", "application/json")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", testSecret, nil)
}

// TestHashSecret pins the header digest.
func TestHashSecret(t *testing.T) {
	require.Len(t, HashSecret(testSecret), 40)
	require.Equal(t, "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3", HashSecret("test"))
	require.NotEqual(t, HashSecret(testSecret), HashSecret(testSecret+" "))
}

// TestLatestTimestamp reads the date of the first (newest) entry.
func TestLatestTimestamp(t *testing.T) {
	site := &fakeSite{getStatus: http.StatusOK, getBody: `[
		{"type":"sgv","sgv":101,"date":1704096300000,"dateString":"2024-01-01T08:05:00+00:00"},
		{"type":"sgv","sgv":99,"date":1704096000000,"dateString":"2024-01-01T08:00:00+00:00"}
	]`}
	client := site.start(t)

	latest, err := client.LatestTimestamp(context.Background())
	require.Nil(t, err, "LatestTimestamp returned an error: %v", err)
	require.Equal(t, int64(1704096300), latest.Unix())
}

// TestLatestTimestampEmpty confirms that an empty site gives the Unix epoch.
func TestLatestTimestampEmpty(t *testing.T) {
	client := (&fakeSite{getStatus: http.StatusOK, getBody: `[]`}).start(t)

	latest, err := client.LatestTimestamp(context.Background())
	require.Nil(t, err, "LatestTimestamp returned an error: %v", err)
	require.Equal(t, int64(0), latest.Unix())
}

// TestLatestTimestampFailures covers the ways the watermark read can fail.
func TestLatestTimestampFailures(t *testing.T) {
	tests := []struct {
		name   string
		site   *fakeSite
		status int
	}{
		{"server error", &fakeSite{getStatus: http.StatusInternalServerError, getBody: "boom"}, http.StatusInternalServerError},
		{"not json", &fakeSite{getStatus: http.StatusOK, getBody: "<html>"}, http.StatusOK},
		{"no date", &fakeSite{getStatus: http.StatusOK, getBody: `[{"type":"sgv","sgv":100}]`}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.site.start(t).LatestTimestamp(context.Background())
			require.ErrorIs(t, err, ErrRemoteUnavailable)
			require.False(t, errors.Is(err, ErrUploadFailed))

			var nsErr *Error
			require.True(t, errors.As(err, &nsErr))
			require.Equal(t, tt.status, nsErr.StatusCode)
		})
	}
}

// TestBadSecret confirms that an unauthorized read is reported with its status.
func TestBadSecret(t *testing.T) {
	site := &fakeSite{getStatus: http.StatusOK, getBody: `[]`}
	client := site.start(t)
	client.hashedSecret = HashSecret("wrong")

	_, err := client.LatestTimestamp(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	require.Contains(t, err.Error(), "status 401")
	require.Contains(t, err.Error(), "Unauthorized")
}

// TestUnreachable confirms that a transport failure is a remote failure.
func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, testSecret, nil).LatestTimestamp(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

// TestTimeout confirms that a hung site does not hang the client forever.
func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, testSecret, &http.Client{Timeout: 50 * time.Millisecond})
	_, err := client.LatestTimestamp(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

// TestUploadEntries checks the body of an accepted upload.
func TestUploadEntries(t *testing.T) {
	site := &fakeSite{postStatus: http.StatusOK, postBody: `{"ok":1}`}
	client := site.start(t)

	zone := time.FixedZone("", 0)
	entries := []glucose.Entry{
		{Kind: glucose.SensorGlucose, Value: 108, Date: time.Date(2024, 1, 1, 8, 0, 0, 0, zone)},
		{Kind: glucose.MeterGlucose, Value: 72, Date: time.Date(2024, 1, 1, 8, 5, 0, 0, zone)},
	}

	body, err := client.UploadEntries(context.Background(), entries)
	require.Nil(t, err, "UploadEntries returned an error: %v", err)
	require.Equal(t, `{"ok":1}`, body)
	require.Equal(t, 1, site.posts)
	require.Len(t, site.posted, 2)

	require.Equal(t, "sgv", site.posted[0]["type"])
	require.Equal(t, float64(108), site.posted[0]["sgv"])
	require.Equal(t, float64(1704096000000), site.posted[0]["date"])
	require.Equal(t, "2024-01-01T08:00:00+00:00", site.posted[0]["dateString"])

	require.Equal(t, "mbg", site.posted[1]["type"])
	require.Equal(t, float64(72), site.posted[1]["mbg"])
	require.NotContains(t, site.posted[1], "sgv")
}

// TestUploadRejected confirms that the status and body of a rejected upload are reported.
func TestUploadRejected(t *testing.T) {
	site := &fakeSite{postStatus: http.StatusBadRequest, postBody: "invalid entries"}
	client := site.start(t)

	entry := glucose.Entry{Kind: glucose.SensorGlucose, Value: 100, Date: time.Unix(1704096000, 0)}
	_, err := client.UploadEntries(context.Background(), []glucose.Entry{entry})
	require.ErrorIs(t, err, ErrUploadFailed)
	require.False(t, errors.Is(err, ErrRemoteUnavailable))
	require.Contains(t, err.Error(), "status 400")
	require.Contains(t, err.Error(), "invalid entries")
	require.Equal(t, 1, site.posts, "a failed upload must not be retried")
}
