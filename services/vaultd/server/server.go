package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaultguard/native/automation"
	ncommon "vaultguard/native/common"
	"vaultguard/native/pipeline"
	"vaultguard/native/risk"
	"vaultguard/native/vault"
	"vaultguard/observability/metrics"
	"vaultguard/services/vaultd/journal"
	"vaultguard/services/vaultd/middleware"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Logger     *slog.Logger
	Manager    *Manager
	Journal    *journal.Journal
	Automation automation.Config
	Pauses     ncommon.PauseView
	Auth       middleware.AuthConfig
	RateLimit  middleware.RateLimit
}

// Server exposes the vault automation API over HTTP.
type Server struct {
	logger     *slog.Logger
	manager    *Manager
	journal    *journal.Journal
	automation automation.Config
	pauses     ncommon.PauseView

	router http.Handler
}

// New constructs a configured HTTP router with auth and rate limiting.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Automation.EnsureDefaults()
	srv := &Server{
		logger:     cfg.Logger,
		manager:    cfg.Manager,
		journal:    cfg.Journal,
		automation: cfg.Automation,
		pauses:     cfg.Pauses,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Use(auth.Middleware)

		api.Get("/markets", s.ListMarkets)
		api.Post("/metadata/stop-loss", s.StopLossMetadata)
		api.Post("/pipelines", s.StartPipeline)
		api.Get("/pipelines/{id}", s.GetPipeline)
		api.Get("/pipelines/{id}/history", s.PipelineHistory)
		api.Post("/pipelines/{id}/intents", s.SendIntent)
		api.Get("/pipelines/{id}/events", s.StreamEvents)
	})

	return otelhttp.NewHandler(r, "vaultd")
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMarkets returns the market identifiers pipelines accept.
func (s *Server) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.manager.Markets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "markets unavailable")
		return
	}
	if markets == nil {
		markets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"markets": markets})
}

// StopLossMetadata computes the stop-loss descriptor for a caller-supplied
// position snapshot without starting a pipeline.
func (s *Server) StopLossMetadata(w http.ResponseWriter, r *http.Request) {
	if err := ncommon.Guard(s.pauses, "metadata"); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var req struct {
		Protocol string          `json:"protocol"`
		Position positionRequest `json:"position"`
		Triggers triggersRequest `json:"triggers"`
		Env      envRequest      `json:"env"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	protocol := vault.Protocol(strings.ToLower(strings.TrimSpace(req.Protocol)))
	if !protocol.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown protocol %q", req.Protocol))
		return
	}
	position, err := req.Position.toPosition()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	triggers, err := req.Triggers.toTriggerSet(protocol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env, err := req.Env.toEnv()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metadata, err := automation.StopLossMetadataFor(protocol, position, triggers, env, s.automation)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	metrics.Automation().ObserveMetadataBuild(string(protocol))

	level := risk.StartingStopLossLevel(triggers.StopLoss.Level, triggers.StopLoss.Enabled, metadata.Values.InitialLevel)
	validation := metadata.Validate(position, triggers, level, env, s.automation)
	for _, kind := range validation.Errors {
		metrics.Automation().ObserveValidationFailure(string(kind))
	}

	writeJSON(w, http.StatusOK, newMetadataView(metadata, level, validation))
}

// StartPipeline opens a staged transaction pipeline for one market.
func (s *Server) StartPipeline(w http.ResponseWriter, r *http.Request) {
	if err := ncommon.Guard(s.pauses, "pipeline"); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var req struct {
		Market    string     `json:"market"`
		Connected bool       `json:"connected"`
		Owner     string     `json:"owner"`
		Protocol  string     `json:"protocol"`
		Spender   string     `json:"spender"`
		Env       envRequest `json:"env"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	conn := pipeline.Connectivity{
		Connected: req.Connected,
		Owner:     common.HexToAddress(req.Owner),
		Spender:   common.HexToAddress(req.Spender),
	}
	if req.Connected {
		protocol := vault.Protocol(strings.ToLower(strings.TrimSpace(req.Protocol)))
		if !protocol.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown protocol %q", req.Protocol))
			return
		}
		conn.Protocol = protocol
	}
	env, err := req.Env.toEnv()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.manager.Start(env, strings.TrimSpace(req.Market), conn)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, pipeline.ErrMissingDependency):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ncommon.ErrQuotaRequestsExceeded),
			errors.Is(err, ncommon.ErrQuotaStartsExceeded):
			status = http.StatusTooManyRequests
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := s.manager.Latest(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pipeline")
		return
	}
	writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) PipelineHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	rows, err := s.journal.Transitions(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// SendIntent forwards a user intent to a running pipeline.
func (s *Server) SendIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Type     string `json:"type"`
		StopLoss *struct {
			Enabled        *bool   `json:"enabled"`
			Level          *string `json:"level"`
			IsToCollateral *bool   `json:"isToCollateral"`
		} `json:"stopLoss"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var intent pipeline.Intent
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "submit":
		intent = pipeline.SubmitIntent{}
	case "retry":
		intent = pipeline.RetryIntent{}
	case "continue":
		intent = pipeline.ContinueIntent{}
	case "patch":
		patch := automation.StopLossPatch{}
		if req.StopLoss != nil {
			patch.Enabled = req.StopLoss.Enabled
			patch.IsToCollateral = req.StopLoss.IsToCollateral
			if req.StopLoss.Level != nil {
				level, err := parseRat("stopLoss.level", *req.StopLoss.Level)
				if err != nil {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				patch.Level = level
			}
		}
		metrics.Automation().ObserveTriggerPatch("stopLoss")
		if err := s.journal.RecordTriggerChange(id, "", "stopLoss"); err != nil {
			s.logger.Warn("journal write failed", "pipeline", id, "error", err.Error())
		}
		intent = pipeline.PatchIntent{Patches: []automation.Patch{patch}}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown intent type %q", req.Type))
		return
	}

	owner := middleware.Subject(r.Context())
	if err := s.manager.Send(r.Context(), id, owner, intent); err != nil {
		switch {
		case errors.Is(err, ErrUnknownPipeline):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pipeline.ErrNotRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ncommon.ErrQuotaRequestsExceeded):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// StreamEvents emits the pipeline state stream as server-sent events.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, cancel, ok := s.manager.Subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pipeline")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case state, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(newStateView(state))
			if err != nil {
				s.logger.Warn("encode state failed", "pipeline", id, "error", err.Error())
				return
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
