package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/stashfind/internal/stash/domain"
	"github.com/example/stashfind/internal/stash/service"
	"github.com/example/stashfind/internal/stash/syncer"
)

// HTTP exposes the availability search and the sync trigger. Parsing and
// serialization live here; semantic validation stays in the core.
type HTTP struct {
	svc     *service.Service
	syncer  *syncer.Syncer
	limiter *RateLimiter
}

// NewHTTP constructs the handler. limiter may be nil.
func NewHTTP(svc *service.Service, sync *syncer.Syncer, limiter *RateLimiter) *HTTP {
	return &HTTP{svc: svc, syncer: sync, limiter: limiter}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}
	r.Get("/v1/stashpoints/search", h.search)
	r.Post("/v1/sync", h.triggerSync)
	return r
}

type searchResultResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Address           string  `json:"address"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	DistanceKM        float64 `json:"distance_km"`
	Capacity          int     `json:"capacity"`
	AvailableCapacity int     `json:"available_capacity"`
	OpenFrom          string  `json:"open_from"`
	OpenUntil         string  `json:"open_until"`
}

func (h *HTTP) search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.svc.Search(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	payload := make([]searchResultResponse, 0, len(results))
	for _, res := range results {
		payload = append(payload, searchResultResponse{
			ID:                res.PointID,
			Name:              res.Name,
			Address:           res.Address,
			Latitude:          res.Location.Lat,
			Longitude:         res.Location.Lng,
			DistanceKM:        math.Round(res.DistanceKM*10) / 10,
			Capacity:          res.Capacity,
			AvailableCapacity: res.AvailableCapacity,
			OpenFrom:          res.OpenFrom.String(),
			OpenUntil:         res.OpenUntil.String(),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTP) triggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusNotFound, "sync not configured")
		return
	}
	if err := h.syncer.RunOnce(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func parseSearchRequest(r *http.Request) (domain.SearchRequest, error) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid or missing lat")
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid or missing lng")
	}
	dropoff, err := time.Parse(time.RFC3339, q.Get("dropoff"))
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid or missing dropoff, want RFC3339")
	}
	pickup, err := time.Parse(time.RFC3339, q.Get("pickup"))
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid or missing pickup, want RFC3339")
	}
	bagCount, err := strconv.Atoi(q.Get("bag_count"))
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid or missing bag_count")
	}

	var radiusKM float64
	if raw := q.Get("radius_km"); raw != "" {
		radiusKM, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.SearchRequest{}, errors.New("invalid radius_km")
		}
	}

	return domain.SearchRequest{
		Location: domain.GeoPoint{Lat: lat, Lng: lng},
		Dropoff:  dropoff,
		Pickup:   pickup,
		BagCount: bagCount,
		RadiusKM: radiusKM,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
