package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Controller is the simulation surface the control API drives
type Controller interface {
	Start(count int) error
	Stop() error
	Status() Status
}

// API provides HTTP control interface for the simulation
type API struct {
	sim          Controller
	defaultCount int
	maxCount     int
	logger       zerolog.Logger
}

// NewAPI creates a new control API
func NewAPI(sim Controller, defaultCount, maxCount int, logger zerolog.Logger) *API {
	return &API{
		sim:          sim,
		defaultCount: defaultCount,
		maxCount:     maxCount,
		logger:       logger.With().Str("component", "control_api").Logger(),
	}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", api.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/start", api.startHandler).Methods(http.MethodPost)
	router.HandleFunc("/stop", api.stopHandler).Methods(http.MethodPost)
}

// healthHandler returns service health
func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statusHandler returns current simulation status
func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.sim.Status())
}

// startHandler starts the simulation. An empty body starts the default count.
func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Count <= 0 {
		req.Count = api.defaultCount
	}
	if req.Count > api.maxCount {
		http.Error(w, "count exceeds the configured maximum", http.StatusBadRequest)
		return
	}

	err := api.sim.Start(req.Count)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		api.logger.Error().Err(err).Msg("failed to start simulation")
		http.Error(w, "failed to start simulation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "simulation started",
		"count":   req.Count,
	})
}

// stopHandler stops the simulation
func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	err := api.sim.Stop()
	switch {
	case errors.Is(err, ErrNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		api.logger.Error().Err(err).Msg("failed to stop simulation")
		http.Error(w, "failed to stop simulation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation stopped"})
}

// Serve runs the control API until ctx is cancelled
func (api *API) Serve(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		api.logger.Info().Msg("shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	api.logger.Info().Str("addr", addr).Msg("control API started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
