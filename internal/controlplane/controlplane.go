// FILE: controlplane.go
// Package controlplane exposes the Strategy Supervisor's start/stop/status
// verbs as an HTTP API (spec.md §6): POST /strategies/start, POST
// /strategies/stop, GET /strategies/status (instance key in the userId,
// strategyName, instrument, broker and environment query parameters).
//
// Routing follows the pack's gorilla/mux + rs/cors shape (one router, one
// cors.Handler wrapping it, one *http.Server); each handler decodes its
// body, calls into the supervisor, and translates xerrors.Error into an
// HTTP status the way a thin API layer should — it owns no business logic
// of its own.
package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/supervisor"
	"github.com/razorcore/execution-core/internal/xerrors"
)

// Handler wires the supervisor into an *http.Handler.
type Handler struct {
	sup *supervisor.Supervisor
	log zerolog.Logger
}

// New builds the routed, CORS-wrapped handler. corsOrigins is the allowlist
// for the Access-Control-Allow-Origin handshake (spec.md carries no opinion
// on this; it follows the ambient ServerConfig.CORSOrigins knob).
func New(sup *supervisor.Supervisor, log zerolog.Logger, corsOrigins []string) http.Handler {
	h := &Handler{sup: sup, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/strategies/start", h.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/strategies/stop", h.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/strategies/status", h.handleStatus).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(router)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// startBody is the JSON body for POST /strategies/start.
type startBody struct {
	UserID       string                 `json:"userId"`
	StrategyName string                 `json:"strategyName"`
	Instrument   string                 `json:"instrument"`
	Broker       string                 `json:"broker"`
	Environment  string                 `json:"environment"`
	Config       *domain.StrategyConfig `json:"config,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	cfg := domain.DefaultStrategyConfig()
	if body.Config != nil {
		cfg = *body.Config
	}

	key := domain.InstanceKey{
		UserID:       body.UserID,
		StrategyName: body.StrategyName,
		Instrument:   body.Instrument,
		Broker:       domain.Broker(body.Broker),
		Environment:  domain.Environment(body.Environment),
	}

	err := h.sup.Start(r.Context(), supervisor.StartRequest{Key: key, Config: cfg})
	if err != nil {
		h.writeSupervisorError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// stopBody is the JSON body for POST /strategies/stop.
type stopBody struct {
	UserID       string `json:"userId"`
	StrategyName string `json:"strategyName"`
	Instrument   string `json:"instrument"`
	Broker       string `json:"broker"`
	Environment  string `json:"environment"`
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var body stopBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	key := domain.InstanceKey{
		UserID:       body.UserID,
		StrategyName: body.StrategyName,
		Instrument:   body.Instrument,
		Broker:       domain.Broker(body.Broker),
		Environment:  domain.Environment(body.Environment),
	}

	err := h.sup.Stop(r.Context(), supervisor.StopRequest{Key: key})
	if err != nil {
		h.writeSupervisorError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.InstanceKey{
		UserID:       q.Get("userId"),
		StrategyName: q.Get("strategyName"),
		Instrument:   q.Get("instrument"),
		Broker:       domain.Broker(q.Get("broker")),
		Environment:  domain.Environment(q.Get("environment")),
	}

	row, found, err := h.sup.Status(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no status row for this key")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(row)
}

func (h *Handler) writeSupervisorError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if xe, ok := err.(*xerrors.Error); ok {
		switch xe.Code {
		case xerrors.CodeAlreadyRunning, xerrors.CodeNotRunning, xerrors.CodeValidationFailure:
			status = http.StatusConflict
		case xerrors.CodeNotConnected:
			status = http.StatusServiceUnavailable
		}
	}
	h.log.Warn().Err(err).Msg("control-plane request failed")
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
