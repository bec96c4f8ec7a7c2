package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/audit"
	"github.com/sulaiman013/powerbi-expert-app/pkg/llm"
	"github.com/sulaiman013/powerbi-expert-app/pkg/logging"
	"github.com/sulaiman013/powerbi-expert-app/pkg/models"
)

// maxRequestBody caps POST bodies. A schema is metadata, not data; a
// megabyte is already generous.
const maxRequestBody = 1 << 20

// GenerateRequest is the POST /api/generate body.
type GenerateRequest struct {
	Schema *models.Schema `json:"schema"`
	Intent string         `json:"intent"`
}

// GenerateResponse is the success body.
type GenerateResponse struct {
	DAX       string `json:"dax"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	LatencyMS int64  `json:"latency_ms"`
	Tokens    int    `json:"tokens,omitempty"`
	RequestID string `json:"request_id"`
}

// GenerateHandler exposes DAX generation and router introspection.
type GenerateHandler struct {
	router   *llm.Router
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewGenerateHandler wires the handler to the router.
func NewGenerateHandler(router *llm.Router, auditLog *audit.Logger, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{router: router, auditLog: auditLog, logger: logger}
}

// RegisterRoutes registers the generation routes on the given mux.
func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/generate", h.Generate)
	mux.HandleFunc("/api/status", h.Status)
	mux.HandleFunc("/api/audit/verify", h.VerifyAudit)
}

// Generate handles POST /api/generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req GenerateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.Schema == nil || len(req.Schema.Tables) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_schema", "schema with at least one table is required")
		return
	}

	resp, err := h.router.GenerateDAX(r.Context(), req.Schema, req.Intent)
	if err != nil {
		status, code := statusForError(err)
		h.logger.Warn("generation rejected",
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, status, code, logging.SanitizeError(err))
		return
	}

	if err := WriteJSON(w, http.StatusOK, GenerateResponse{
		DAX:       resp.Content,
		Model:     resp.Model,
		Provider:  string(resp.Provider),
		LatencyMS: resp.Latency.Milliseconds(),
		Tokens:    resp.TotalTokens,
		RequestID: resp.RequestID,
	}); err != nil {
		h.logger.Error("Failed to encode generate response", zap.Error(err))
	}
}

// Status handles GET /api/status with provider and audit state.
func (h *GenerateHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	body := map[string]any{
		"providers": h.router.Status(),
		"health":    h.router.HealthCheck(ctx),
		"audit":     h.auditLog.Stats(),
	}
	if err := WriteJSON(w, http.StatusOK, body); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}

// VerifyAudit handles GET /api/audit/verify, replaying the current
// audit segment's hash chain and signatures.
func (h *GenerateHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	report := h.auditLog.VerifyIntegrity(r.URL.Query().Get("file"))

	status := http.StatusOK
	if !report.Valid {
		status = http.StatusConflict
	}
	if err := WriteJSON(w, status, report); err != nil {
		h.logger.Error("Failed to encode verify response", zap.Error(err))
	}
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) (int, string) {
	kind := llm.KindOf(err)
	switch kind {
	case llm.KindValidation:
		return http.StatusBadRequest, string(kind)
	case llm.KindPolicy:
		return http.StatusForbidden, string(kind)
	case llm.KindNoProvider, llm.KindAudit:
		return http.StatusServiceUnavailable, string(kind)
	case llm.KindTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case llm.KindConnection, llm.KindProvider:
		return http.StatusBadGateway, string(kind)
	default:
		return http.StatusInternalServerError, "internal"
	}
}
