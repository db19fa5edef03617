package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/metrics"
	"pepperfield.dev/soilguard/pkg/wire"
)

// defaultHistoryLimit is used when the history query omits n.
const defaultHistoryLimit = 10

// Handler serves the engine's HTTP API. Persistence is the engine's
// concern: an engine configured with a Saver stores each accepted
// reading before recording it, so a failed save surfaces here as an
// ingest error with nothing left behind to duplicate on retry.
type Handler struct {
	logger  *slog.Logger
	engine  *engine.Engine
	metrics *metrics.ServerMetrics // optional
}

// NewHandler creates a Handler instance.
func NewHandler(logger *slog.Logger, eng *engine.Engine, m *metrics.ServerMetrics) (*Handler, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if eng == nil {
		return nil, errors.New("engine cannot be nil")
	}
	return &Handler{logger: logger, engine: eng, metrics: m}, nil
}

// errResponse is the categorized rejection body: the caller always
// learns why a specific reading was refused.
type errResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type ingestResponse struct {
	Record         *engine.HealthScoreRecord `json:"record"`
	Recommendation *engine.Recommendation    `json:"recommendation"`
}

type historyResponse struct {
	FieldID string                     `json:"field_id"`
	Records []engine.HealthScoreRecord `json:"records"`
}

type trendResponse struct {
	FieldID string   `json:"field_id"`
	Defined bool     `json:"defined"`
	Slope   *float64 `json:"slope,omitempty"`
}

type stageRequest struct {
	Stage string `json:"stage"`
}

type stageResponse struct {
	FieldID string             `json:"field_id"`
	Stage   engine.GrowthStage `json:"stage"`
}

// IngestReading handles POST /api/v1/readings.
func (h *Handler) IngestReading(w http.ResponseWriter, r *http.Request) {
	var payload wire.ReadingPayload
	if err := render.DecodeJSON(r.Body, &payload); err != nil {
		h.renderErr(w, r, http.StatusBadRequest, "malformed reading payload", "bad_json")
		return
	}

	record, rec, err := h.engine.Ingest(r.Context(), payload.Reading())
	if err != nil {
		h.renderIngestErr(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ingestResponse{Record: record, Recommendation: rec})
}

// GetHistory handles GET /api/v1/fields/{fieldID}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	fieldID := chi.URLParam(r, "fieldID")
	if fieldID == "" {
		h.renderErr(w, r, http.StatusBadRequest, "field id cannot be empty", "missing_field")
		return
	}

	n := defaultHistoryLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.renderErr(w, r, http.StatusBadRequest, "n must be a positive integer", "bad_query")
			return
		}
		n = parsed
	}

	records := h.engine.History(fieldID, n)
	if records == nil {
		records = []engine.HealthScoreRecord{}
	}
	render.JSON(w, r, historyResponse{FieldID: fieldID, Records: records})
}

// GetTrend handles GET /api/v1/fields/{fieldID}/trend. A field with
// fewer than two records has no trend, which is not an error.
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	fieldID := chi.URLParam(r, "fieldID")
	if fieldID == "" {
		h.renderErr(w, r, http.StatusBadRequest, "field id cannot be empty", "missing_field")
		return
	}

	resp := trendResponse{FieldID: fieldID}
	if slope, ok := h.engine.Trend(fieldID); ok {
		resp.Defined = true
		resp.Slope = &slope
	}
	render.JSON(w, r, resp)
}

// SetStage handles PUT /api/v1/fields/{fieldID}/stage.
func (h *Handler) SetStage(w http.ResponseWriter, r *http.Request) {
	fieldID := chi.URLParam(r, "fieldID")
	if fieldID == "" {
		h.renderErr(w, r, http.StatusBadRequest, "field id cannot be empty", "missing_field")
		return
	}

	var req stageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderErr(w, r, http.StatusBadRequest, "malformed stage payload", "bad_json")
		return
	}

	stage := engine.GrowthStage(req.Stage)
	if err := h.engine.SetStage(fieldID, stage); err != nil {
		var regression *engine.StageRegressionError
		if errors.As(err, &regression) {
			h.renderErr(w, r, http.StatusConflict, err.Error(), "stage_regression")
			return
		}
		h.renderErr(w, r, http.StatusUnprocessableEntity, err.Error(), "invalid_stage")
		return
	}

	render.JSON(w, r, stageResponse{FieldID: fieldID, Stage: stage})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handler) renderIngestErr(w http.ResponseWriter, r *http.Request, err error) {
	reason := engine.RejectReason(err)
	status := http.StatusInternalServerError
	switch reason {
	case "invalid_reading", "missing_field":
		status = http.StatusUnprocessableEntity
	case "out_of_order":
		status = http.StatusConflict
	}
	h.renderErr(w, r, status, err.Error(), reason)
}

func (h *Handler) renderErr(w http.ResponseWriter, r *http.Request, status int, msg, reason string) {
	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: msg, Reason: reason})
}
