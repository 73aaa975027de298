// Package identity provides anonymous per-device reviewer identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ReviewerCookieName   = "debias_reviewer_id"
	ReviewerHeaderName   = "X-Reviewer-Name"
	reviewerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	reviewerIDKey contextKey = iota
	reviewerNameKey
)

var (
	reviewerIDPattern   = regexp.MustCompile(`^rev_[a-f0-9]{32}$`)
	reviewerNamePattern = regexp.MustCompile(`^[\p{L}\p{M}\p{N} ._-]{1,64}$`)
)

// Registry records reviewers as they are seen. Implementations must be
// idempotent.
type Registry interface {
	TouchReviewer(ctx context.Context, reviewerID, displayName string) error
}

// ReviewerIDFromContext extracts the reviewer ID from the request context.
func ReviewerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(reviewerIDKey).(string); ok {
		return v
	}
	return ""
}

// ReviewerNameFromContext extracts the reviewer display name from the request context.
func ReviewerNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(reviewerNameKey).(string); ok {
		return v
	}
	return ""
}

// WithReviewer returns a context carrying the given reviewer.
func WithReviewer(ctx context.Context, reviewerID, displayName string) context.Context {
	ctx = context.WithValue(ctx, reviewerIDKey, reviewerID)
	return context.WithValue(ctx, reviewerNameKey, displayName)
}

func generateReviewerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reviewer id: %w", err)
	}
	return "rev_" + hex.EncodeToString(buf), nil
}

func isValidReviewerID(id string) bool {
	return reviewerIDPattern.MatchString(id)
}

func deriveDisplayName(reviewerID string) string {
	if len(reviewerID) > 12 {
		return "reviewer-" + reviewerID[len(reviewerID)-8:]
	}
	return "reviewer"
}

func displayNameFromRequest(r *http.Request, reviewerID string) string {
	name := strings.TrimSpace(r.Header.Get(ReviewerHeaderName))
	if name == "" || !reviewerNamePattern.MatchString(name) {
		return deriveDisplayName(reviewerID)
	}
	return name
}

func setReviewerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ReviewerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(reviewerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(reviewerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateReviewerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(ReviewerCookieName); err == nil && isValidReviewerID(c.Value) {
		setReviewerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateReviewerID()
	if err != nil {
		return "", err
	}
	setReviewerCookie(w, id, isDev)
	return id, nil
}

// Middleware assigns every device a stable anonymous reviewer ID and
// records it in reg when reg is non-nil. A registry failure is logged but
// does not block the request.
func Middleware(reg Registry, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reviewerID, err := getOrCreateReviewerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish reviewer identity"}`, http.StatusInternalServerError)
				return
			}

			name := displayNameFromRequest(r, reviewerID)
			if reg != nil {
				if err := reg.TouchReviewer(r.Context(), reviewerID, name); err != nil {
					slog.Warn("Failed to record reviewer", "reviewer_id", reviewerID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), reviewerID, name)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
