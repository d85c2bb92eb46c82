package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/stashfind/internal/stash/domain"
	"github.com/example/stashfind/internal/stash/geoindex"
	"github.com/example/stashfind/internal/stash/handler"
	"github.com/example/stashfind/internal/stash/service"
	"github.com/example/stashfind/internal/stash/store"
)

func newTestServer(t *testing.T) (*store.Memory, *httptest.Server) {
	t.Helper()
	mem := store.NewMemory()
	idx := geoindex.NewMemoryIndex()
	svc := service.New(idx, store.NewStoreProfileSource(mem), nil, nil, nil, service.Config{})

	openFrom, err := domain.ParseDayTime("08:00")
	require.NoError(t, err)
	openUntil, err := domain.ParseDayTime("22:00")
	require.NoError(t, err)
	sp := domain.StoragePoint{
		ID:        "abc123",
		Name:      "Central Storage",
		Address:   "1 Strand, London",
		Location:  domain.GeoPoint{Lat: 51.5107, Lng: -0.1246},
		Capacity:  20,
		OpenFrom:  openFrom,
		OpenUntil: openUntil,
	}
	mem.PutPoint(sp)
	require.NoError(t, idx.Upsert(context.Background(), []domain.GeoIndexEntry{domain.EntryFromStoragePoint(sp)}))

	srv := httptest.NewServer(handler.NewHTTP(svc, nil, nil).Router())
	t.Cleanup(srv.Close)
	return mem, srv
}

func TestSearchEndpointReturnsResults(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/stashpoints/search?lat=51.5&lng=-0.1&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T12:00:00Z&bag_count=2&radius_km=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	require.Equal(t, "abc123", body[0]["id"])
	require.Equal(t, "Central Storage", body[0]["name"])
	require.Equal(t, float64(20), body[0]["capacity"])
	require.Equal(t, float64(20), body[0]["available_capacity"])
	require.Equal(t, "08:00", body[0]["open_from"])
	require.Equal(t, "22:00", body[0]["open_until"])
	require.InDelta(t, 2.1, body[0]["distance_km"].(float64), 0.3)
}

func TestSearchEndpointReturnsEmptyArrayNotNull(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/stashpoints/search?lat=0&lng=0&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T12:00:00Z&bag_count=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body)
	require.Empty(t, body)
}

func TestSearchEndpointRejectsBadParams(t *testing.T) {
	_, srv := newTestServer(t)

	cases := map[string]string{
		"missing lat":    "lng=-0.1&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T12:00:00Z&bag_count=1",
		"bad dropoff":    "lat=51.5&lng=-0.1&dropoff=yesterday&pickup=2024-06-01T12:00:00Z&bag_count=1",
		"bad bag_count":  "lat=51.5&lng=-0.1&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T12:00:00Z&bag_count=two",
		"empty window":   "lat=51.5&lng=-0.1&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T10:00:00Z&bag_count=1",
		"zero bag_count": "lat=51.5&lng=-0.1&dropoff=2024-06-01T10:00:00Z&pickup=2024-06-01T12:00:00Z&bag_count=0",
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/v1/stashpoints/search?" + query)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestSyncEndpointWithoutSyncerReturnsNotFound(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
