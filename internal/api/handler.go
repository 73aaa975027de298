// Package api provides HTTP handlers for the review API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/debias-review/internal/review"
	"github.com/ashureev/debias-review/internal/store"
)

// DefaultMaxUploadBytes caps uploaded documents when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// Options tune request handling.
type Options struct {
	MaxUploadBytes int64
	DefaultRefine  bool
}

// Handler serves the review workflow over HTTP.
type Handler struct {
	orch   *review.Orchestrator
	audit  store.Repository
	opts   Options
	logger *slog.Logger
}

// NewHandler creates a new Handler. audit may be nil, in which case the
// event history endpoint reports the audit log as unavailable.
func NewHandler(orch *review.Orchestrator, audit store.Repository, opts Options, logger *slog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, audit: audit, opts: opts, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type errorResponse struct {
	Error             string      `json:"error"`
	Kind              review.Kind `json:"kind,omitempty"`
	PendingCount      *int        `json:"pending_count,omitempty"`
	NeedsRegeneration *int        `json:"needs_regeneration_count,omitempty"`
}

// StatusForKind maps an orchestrator error kind onto an HTTP status.
func StatusForKind(kind review.Kind) int {
	switch kind {
	case review.KindValidation, review.KindInvalidArgument:
		return http.StatusBadRequest
	case review.KindNotFound:
		return http.StatusNotFound
	case review.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case review.KindUpstreamFailure:
		return http.StatusBadGateway
	case review.KindIncompleteReview:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an orchestrator error. Unclassified errors are logged
// and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var re *review.Error
	if !errors.As(err, &re) {
		h.logger.Error("Unhandled review error", "error", err, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := StatusForKind(re.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Review request failed", "kind", re.Kind, "error", err, "path", r.URL.Path)
	} else {
		h.logger.Debug("Review request rejected", "kind", re.Kind, "error", err, "path", r.URL.Path)
	}

	resp := errorResponse{Error: re.Message, Kind: re.Kind}
	if re.Kind == review.KindIncompleteReview {
		pending, regen := re.Pending, re.NeedsRegeneration
		resp.PendingCount = &pending
		resp.NeedsRegeneration = &regen
	}
	JSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
