package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/smahud/traffic-buster/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")

	// API v1 routes, all behind user identity and rate limiting
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(RequireUser)
	api.Use(RateLimitMiddleware(rateLimiter))

	// Job endpoints
	api.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/stop", h.StopAllJobs).Methods("POST")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/stop", h.StopJob).Methods("POST")

	// Dataset endpoints
	api.HandleFunc("/datasets/{kind}", h.ListDatasets).Methods("GET")
	api.HandleFunc("/datasets/{kind}/{set}", h.SaveDataset).Methods("PUT")
	api.HandleFunc("/datasets/{kind}/{set}", h.GetDataset).Methods("GET")
	api.HandleFunc("/datasets/{kind}/{set}", h.DeleteDataset).Methods("DELETE")
	api.HandleFunc("/datasets/{kind}/{set}/uploads", h.BeginUpload).Methods("POST")
	api.HandleFunc("/uploads/{id}/chunks/{index}", h.AppendUploadChunk).Methods("PUT")
	api.HandleFunc("/uploads/{id}/finalize", h.FinalizeUpload).Methods("POST")

	// History endpoints
	api.HandleFunc("/history", h.ListHistory).Methods("GET")
	api.HandleFunc("/history", h.ClearHistory).Methods("DELETE")
	api.HandleFunc("/history/rollup", h.GetHistoryRollup).Methods("GET")
	api.HandleFunc("/history/{id}", h.DeleteHistory).Methods("DELETE")

	// Schedule endpoints
	api.HandleFunc("/schedules", h.CreateSchedule).Methods("POST")
	api.HandleFunc("/schedules", h.ListSchedules).Methods("GET")
	api.HandleFunc("/schedules/{id}", h.DeleteSchedule).Methods("DELETE")

	// Proxy testing
	api.HandleFunc("/proxies/test", h.TestProxies).Methods("POST")

	// License view
	api.HandleFunc("/license", h.GetLicense).Methods("GET")

	// Live event stream
	api.HandleFunc("/events", h.HandleEvents).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-License")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
