package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/ashureev/debias-review/internal/identity"
	"github.com/ashureev/debias-review/internal/report"
	"github.com/ashureev/debias-review/internal/review"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers review routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/review", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/decide", h.Decide)
		r.Post("/regenerate", h.Regenerate)
		r.Post("/finalize", h.Finalize)
		r.Get("/health", h.Health)
		r.Route("/session/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Status)
			r.Delete("/", h.Delete)
			r.Get("/report", h.Report)
			r.Get("/events", h.Events)
		})
	})
}

type startResponse struct {
	Success           bool                `json:"success"`
	SessionID         string              `json:"session_id"`
	Filename          string              `json:"filename"`
	TotalSentences    int                 `json:"total_sentences"`
	BiasedCount       int                 `json:"biased_count"`
	NeutralCount      int                 `json:"neutral_count"`
	SkippedCount      int                 `json:"skipped_count"`
	SegmentationLayer string              `json:"segmentation_layer"`
	Refined           bool                `json:"refined_with_llm"`
	Sentences         []domain.ReviewItem `json:"sentences"`
}

// Start accepts a multipart upload and opens a review session.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.opts.MaxUploadBytes {
		Error(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		Error(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	req := review.StartRequest{
		Document:           data,
		Filename:           header.Filename,
		RefineSegmentation: h.opts.DefaultRefine,
	}
	if v := r.FormValue("refine_with_llm"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			Error(w, http.StatusBadRequest, "refine_with_llm must be a boolean")
			return
		}
		req.RefineSegmentation = b
	}
	if v := r.FormValue("confidence_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "confidence_threshold must be a number")
			return
		}
		req.ConfidenceThreshold = &f
	}

	res, err := h.orch.StartReview(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusCreated, startResponse{
		Success:           true,
		SessionID:         res.Session.ID,
		Filename:          res.Session.SourceFilename,
		TotalSentences:    len(res.Session.Items),
		BiasedCount:       res.BiasedCount,
		NeutralCount:      res.NeutralCount,
		SkippedCount:      res.Skipped,
		SegmentationLayer: res.Layer.String(),
		Refined:           res.Refined,
		Sentences:         res.Session.Items,
	})
}

type decideRequest struct {
	SessionID          string  `json:"session_id"`
	SentenceID         string  `json:"sentence_id"`
	Action             string  `json:"action"`
	ApprovedSuggestion *string `json:"approved_suggestion,omitempty"`
}

type decideResponse struct {
	Success    bool              `json:"success"`
	SentenceID string            `json:"sentence_id"`
	Status     domain.ItemStatus `json:"status"`
	Message    string            `json:"message"`
	Ready      bool              `json:"ready_for_finalization"`
	domain.Stats
}

// Decide approves or rejects one sentence.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.SentenceID == "" {
		Error(w, http.StatusBadRequest, "session_id and sentence_id are required")
		return
	}

	res, err := h.orch.Decide(r.Context(), req.SessionID, req.SentenceID, review.Action(req.Action), req.ApprovedSuggestion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "Suggestion approved"
	if res.Item.Status == domain.ItemNeedsRegeneration {
		msg = "Suggestion rejected; regenerate a new suggestion"
	}
	JSON(w, http.StatusOK, decideResponse{
		Success:    true,
		SentenceID: res.Item.ID,
		Status:     res.Item.Status,
		Message:    msg,
		Ready:      res.Ready,
		Stats:      res.Stats,
	})
}

type sentenceRequest struct {
	SessionID  string `json:"session_id"`
	SentenceID string `json:"sentence_id"`
}

type regenerateResponse struct {
	Success       bool              `json:"success"`
	SentenceID    string            `json:"sentence_id"`
	NewSuggestion string            `json:"new_suggestion"`
	Status        domain.ItemStatus `json:"status"`
	domain.Stats
}

// Regenerate requests a fresh suggestion for one sentence.
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	var req sentenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.SentenceID == "" {
		Error(w, http.StatusBadRequest, "session_id and sentence_id are required")
		return
	}

	res, err := h.orch.Regenerate(r.Context(), req.SessionID, req.SentenceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := regenerateResponse{
		Success:    true,
		SentenceID: res.Item.ID,
		Status:     res.Item.Status,
		Stats:      res.Stats,
	}
	if res.Item.Suggestion != nil {
		resp.NewSuggestion = *res.Item.Suggestion
	}
	JSON(w, http.StatusOK, resp)
}

type finalizeRequest struct {
	SessionID string `json:"session_id"`
}

// Finalize streams the regenerated document as a download.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := h.orch.Finalize(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	w.Header().Set("X-Changes-Applied", strconv.Itoa(res.ChangesApplied))
	w.Header().Set("X-Total-Sentences", strconv.Itoa(res.TotalSentences))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Document); err != nil {
		h.logger.Debug("Failed to write document", "session_id", req.SessionID, "error", err)
	}
}

type statusResponse struct {
	Success   bool                 `json:"success"`
	SessionID string               `json:"session_id"`
	Filename  string               `json:"filename"`
	Status    domain.SessionStatus `json:"status"`
	Ready     bool                 `json:"ready_for_finalization"`
	UpdatedAt time.Time            `json:"updated_at"`
	domain.Stats
	Sentences []domain.ReviewItem `json:"sentences"`
}

// Status returns the session with its review progress.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.GetStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, statusResponse{
		Success:   true,
		SessionID: res.Session.ID,
		Filename:  res.Session.SourceFilename,
		Status:    res.Session.Status,
		Ready:     res.Ready,
		UpdatedAt: res.Session.UpdatedAt,
		Stats:     res.Stats,
		Sentences: res.Session.Items,
	})
}

// Delete discards a session.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.orch.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "session_id": id})
}

// Report renders the change report as HTML.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.GetStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := report.Page(res.Session)
	if err != nil {
		h.logger.Error("Failed to render report", "session_id", res.Session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

type eventsResponse struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status,omitempty"`
	Closed    bool                 `json:"closed"`
	Events    []domain.ReviewEvent `json:"events"`
}

// Events returns the recorded history of a session, including sessions
// that have since been deleted or expired.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		Error(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	id := chi.URLParam(r, "sessionID")

	summary, err := h.audit.GetSessionAudit(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to read session audit", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if summary == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	events, err := h.audit.SessionEvents(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to read session events", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if events == nil {
		events = []domain.ReviewEvent{}
	}
	JSON(w, http.StatusOK, eventsResponse{
		SessionID: id,
		Status:    summary.Status,
		Closed:    summary.Closed,
		Events:    events,
	})
}

type healthResponse struct {
	review.HealthReport
	Service  string          `json:"service"`
	Database string          `json:"database"`
	Reviewer string          `json:"reviewer_id,omitempty"`
	Features map[string]bool `json:"features"`
}

// Health reports gateway and database availability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep := h.orch.Health(ctx)
	resp := healthResponse{
		HealthReport: rep,
		Service:      "debias-review",
		Database:     "not_configured",
		Reviewer:     identity.ReviewerIDFromContext(r.Context()),
		Features: map[string]bool{
			"session_management": true,
			"document_rendering": rep.Renderer,
			"llm_suggestions":    rep.Suggester,
			"llm_segmentation":   rep.Refiner,
			"audit_log":          h.audit != nil,
		},
	}
	if h.audit != nil {
		if err := h.audit.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			resp.Database = "unreachable"
			resp.Status = "degraded"
		} else {
			resp.Database = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}
