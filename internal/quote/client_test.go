package quote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuote(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Quote{
			PriceMinorUnits: 15000,
			DurationMinutes: 90,
			ProviderAuthID:  "prov-auth-1",
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)

	q, err := client.GetQuote(context.Background(), "prov-1", "svc-2")
	require.NoError(t, err)

	assert.Equal(t, "/internal/providers/prov-1/services/svc-2/quote", gotPath)
	assert.Equal(t, int64(15000), q.PriceMinorUnits)
	assert.Equal(t, 90, q.DurationMinutes)
	assert.Equal(t, "prov-auth-1", q.ProviderAuthID)
}

func TestGetQuoteEscapesPathSegments(t *testing.T) {
	var gotEscaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(Quote{PriceMinorUnits: 100})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)

	_, err := client.GetQuote(context.Background(), "prov/1", "svc-1")
	require.NoError(t, err)
	assert.Contains(t, gotEscaped, "prov%2F1")
}

func TestGetQuoteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)

	_, err := client.GetQuote(context.Background(), "prov-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetOpenIntervals(t *testing.T) {
	var gotPath, gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		json.NewEncoder(w).Encode(openIntervalsResponse{
			OpenIntervals: []MinuteInterval{
				{StartMinutes: 540, EndMinutes: 720},
				{StartMinutes: 780, EndMinutes: 1020},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)

	intervals, err := client.GetOpenIntervals(context.Background(), "prov-1", "2026-09-01")
	require.NoError(t, err)

	assert.Equal(t, "/internal/providers/prov-1/availability", gotPath)
	assert.Equal(t, "2026-09-01", gotDate)
	require.Len(t, intervals, 2)
	assert.Equal(t, MinuteInterval{StartMinutes: 540, EndMinutes: 720}, intervals[0])
}
