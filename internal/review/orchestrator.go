// Package review runs the bias review workflow: start a review from an
// uploaded document, record reviewer decisions, regenerate suggestions and
// produce the final document.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/ashureev/debias-review/internal/gateway"
	"github.com/ashureev/debias-review/internal/identity"
	"github.com/ashureev/debias-review/internal/segment"
	"github.com/ashureev/debias-review/internal/session"
)

// Action is a reviewer decision on one sentence.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// AuditLog persists review events.
type AuditLog interface {
	Record(ctx context.Context, ev domain.ReviewEvent) error
}

// Notifier pushes review events to live subscribers.
type Notifier interface {
	Publish(ev domain.ReviewEvent)
}

// Config tunes the orchestrator.
type Config struct {
	DefaultThreshold    float64
	ClassifyConcurrency int
	GatewayTimeout      time.Duration
	SegmentMinChars     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultThreshold:    0.7,
		ClassifyConcurrency: 4,
		GatewayTimeout:      30 * time.Second,
		SegmentMinChars:     segment.DefaultMinChars,
	}
}

// Deps are the collaborators of the orchestrator. Store is required; a nil
// gateway is reported as unavailable when an operation needs it.
type Deps struct {
	Store      *session.Store
	Extractor  gateway.Extractor
	Classifier gateway.Classifier
	Suggester  gateway.Suggester
	Refiner    gateway.Refiner
	Renderer   gateway.Renderer
	Categories *domain.CategoryMap
	Audit      AuditLog
	Notifier   Notifier
	Logger     *slog.Logger
}

// Orchestrator composes segmentation, the gateways and the session store.
type Orchestrator struct {
	store      *session.Store
	extractor  gateway.Extractor
	classifier gateway.Classifier
	suggester  gateway.Suggester
	refiner    gateway.Refiner
	renderer   gateway.Renderer
	categories *domain.CategoryMap
	audit      AuditLog
	notifier   Notifier
	segmenter  *segment.Segmenter
	cfg        Config
	logger     *slog.Logger
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = session.NewStore()
	}
	if deps.Extractor == nil {
		deps.Extractor = gateway.NewDocumentExtractor("", logger)
	}
	if deps.Categories == nil {
		deps.Categories = domain.DefaultCategoryMap()
	}
	if cfg.ClassifyConcurrency <= 0 {
		cfg.ClassifyConcurrency = 1
	}
	return &Orchestrator{
		store:      deps.Store,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		suggester:  deps.Suggester,
		refiner:    deps.Refiner,
		renderer:   deps.Renderer,
		categories: deps.Categories,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		segmenter:  segment.New(cfg.SegmentMinChars),
		cfg:        cfg,
		logger:     logger,
	}
}

// Store returns the session store the orchestrator writes to.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// callCtx bounds a single gateway call.
func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.GatewayTimeout)
}

// StartRequest describes an uploaded document.
type StartRequest struct {
	Document           []byte
	Filename           string
	RefineSegmentation bool
	// ConfidenceThreshold overrides the configured default when non-nil.
	ConfidenceThreshold *float64
}

// StartResult is the newly created session.
type StartResult struct {
	Session      domain.ReviewSession
	BiasedCount  int
	NeutralCount int
	// Skipped counts sentences whose classification failed.
	Skipped int
	Layer   segment.Layer
	Refined bool
}

type classified struct {
	category   domain.Category
	confidence float64
	biased     bool
	suggestion *string
}

// StartReview extracts, segments and classifies a document and opens a
// review session for it.
func (o *Orchestrator) StartReview(ctx context.Context, req StartRequest) (StartResult, error) {
	threshold := o.cfg.DefaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return StartResult{}, newError(KindValidation, fmt.Sprintf("confidence threshold %v outside [0,1]", threshold), nil)
	}
	if o.classifier == nil {
		return StartResult{}, newError(KindUpstreamUnavailable, "bias classifier is not configured", gateway.ErrUnavailable)
	}

	extracted, err := o.extractor.Extract(ctx, req.Document)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			o.logger.Error("Document extraction unavailable", "error", err)
			return StartResult{}, newError(KindUpstreamUnavailable, "document text extraction is not available", err)
		}
		return StartResult{}, newError(KindValidation, "could not read text from document", err)
	}

	seg := o.segmenter.Analyze(extracted.Text)
	sentences := seg.Sentences
	refined := false
	if req.RefineSegmentation && len(sentences) > 0 {
		sentences, refined = o.refine(ctx, sentences)
	}
	if len(sentences) == 0 {
		return StartResult{}, newError(KindValidation, "no sentences found in document", nil)
	}

	results, errs := o.classifyAll(ctx, sentences, threshold)

	var firstErr error
	allUnavailable := true
	ok := 0
	for i := range results {
		if results[i] != nil {
			ok++
			continue
		}
		if firstErr == nil {
			firstErr = errs[i]
		}
		if !errors.Is(errs[i], gateway.ErrUnavailable) {
			allUnavailable = false
		}
	}
	if ok == 0 {
		if allUnavailable {
			return StartResult{}, newError(KindUpstreamUnavailable, "bias classifier unreachable", firstErr)
		}
		return StartResult{}, newError(KindUpstreamFailure, "classification failed for every sentence", firstErr)
	}

	o.suggestAll(ctx, sentences, results)

	items := make([]domain.ReviewItem, 0, ok)
	res := StartResult{Layer: seg.Layer, Refined: refined, Skipped: len(sentences) - ok}
	for i, r := range results {
		if r == nil {
			continue
		}
		items = append(items, domain.NewReviewItem(uuid.NewString(), sentences[i], r.category, r.confidence, r.biased, r.suggestion))
		if r.biased {
			res.BiasedCount++
		} else {
			res.NeutralCount++
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "document"
	}
	sess := o.store.Create(filename, items, extracted.Text, req.Document)
	if err := o.store.SetContentType(sess.ID, extracted.ContentType); err == nil {
		sess.ContentType = extracted.ContentType
	}
	res.Session = sess

	o.logger.Info("Review started",
		"session_id", sess.ID,
		"sentences", len(items),
		"biased", res.BiasedCount,
		"skipped", res.Skipped,
		"layer", seg.Layer.String(),
		"refined", refined)

	o.emit(ctx, domain.ReviewEvent{
		Type:          domain.EventSessionStarted,
		SessionID:     sess.ID,
		SessionStatus: sess.Status,
		Stats:         sess.Stats(),
	})
	return res, nil
}

// refine replaces the pattern segmentation with the LLM's when it succeeds.
func (o *Orchestrator) refine(ctx context.Context, sentences []string) ([]string, bool) {
	if o.refiner == nil {
		o.logger.Warn("Segmentation refinement requested but no refiner configured")
		return sentences, false
	}
	cctx, cancel := o.callCtx(ctx)
	defer cancel()

	out, err := o.refiner.Refine(cctx, sentences)
	if err != nil || len(out) == 0 {
		o.logger.Warn("Segmentation refinement failed, using pattern segmentation", "error", err)
		return sentences, false
	}
	return out, true
}

// classifyAll classifies every sentence with bounded parallelism. A nil
// result slot means the call failed; its error is in the matching slot.
func (o *Orchestrator) classifyAll(ctx context.Context, sentences []string, threshold float64) ([]*classified, []error) {
	results := make([]*classified, len(sentences))
	errs := make([]error, len(sentences))

	var g errgroup.Group
	g.SetLimit(o.cfg.ClassifyConcurrency)
	for i, text := range sentences {
		g.Go(func() error {
			cctx, cancel := o.callCtx(ctx)
			defer cancel()

			cls, err := o.classifier.Classify(cctx, text)
			if err == nil && !(cls.Score >= 0 && cls.Score <= 1) {
				err = fmt.Errorf("confidence %v outside [0, 1]", cls.Score)
			}
			if err != nil {
				o.logger.Warn("Classification failed, skipping sentence", "index", i, "error", err)
				errs[i] = err
				return nil
			}

			category, known := o.categories.Resolve(cls.Label)
			if !known {
				o.logger.Warn("Unrecognized classifier label", "label", cls.Label, "index", i)
			}
			results[i] = &classified{
				category:   category,
				confidence: cls.Score,
				biased:     !category.IsNeutral() && cls.Score >= threshold,
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// suggestAll pre-populates suggestions for biased sentences. Failures leave
// the suggestion empty.
func (o *Orchestrator) suggestAll(ctx context.Context, sentences []string, results []*classified) {
	if o.suggester == nil {
		o.logger.Warn("No suggestion gateway configured, biased sentences start without suggestions")
		return
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.ClassifyConcurrency)
	for i, r := range results {
		if r == nil || !r.biased {
			continue
		}
		g.Go(func() error {
			cctx, cancel := o.callCtx(ctx)
			defer cancel()

			text, err := o.suggester.Suggest(cctx, gateway.SuggestRequest{
				Sentence: sentences[i],
				Category: string(r.category),
				Context:  neighbours(sentences, i),
			})
			if err != nil {
				o.logger.Warn("Suggestion failed", "index", i, "error", err)
				return nil
			}
			r.suggestion = &text
			return nil
		})
	}
	_ = g.Wait()
}

// neighbours returns the sentences around index i as prompt context.
func neighbours(sentences []string, i int) string {
	var parts []string
	if i > 0 {
		parts = append(parts, sentences[i-1])
	}
	if i+1 < len(sentences) {
		parts = append(parts, sentences[i+1])
	}
	return strings.Join(parts, " ")
}

// DecideResult is the item after a decision.
type DecideResult struct {
	Item  domain.ReviewItem
	Stats domain.Stats
	Ready bool
}

// Decide records an approve or reject decision. Approving without text
// freezes the item's current suggestion.
func (o *Orchestrator) Decide(ctx context.Context, sessionID, itemID string, action Action, approvedText *string) (DecideResult, error) {
	var (
		status    domain.ItemStatus
		eventType domain.EventType
	)
	switch action {
	case ActionApprove:
		status, eventType = domain.ItemApproved, domain.EventItemApproved
	case ActionReject:
		status, eventType = domain.ItemNeedsRegeneration, domain.EventItemRejected
		approvedText = nil
	default:
		return DecideResult{}, newError(KindInvalidArgument, fmt.Sprintf("unknown action %q", action), nil)
	}

	snap, err := o.store.ApplyDecision(sessionID, itemID, status, approvedText)
	if err != nil {
		return DecideResult{}, storeError(err)
	}
	item := snap.Items[snap.FindItem(itemID)]
	stats := snap.Stats()

	ev := domain.ReviewEvent{
		Type:          eventType,
		SessionID:     sessionID,
		SentenceID:    itemID,
		SessionStatus: snap.Status,
		ItemStatus:    item.Status,
		Stats:         stats,
	}
	if item.ApprovedSuggestion != nil && status == domain.ItemApproved {
		ev.Text = *item.ApprovedSuggestion
	}
	o.emit(ctx, ev)

	return DecideResult{Item: item, Stats: stats, Ready: snap.ReadyForFinalization()}, nil
}

// RegenerateResult is the item after a new suggestion was stored.
type RegenerateResult struct {
	Item  domain.ReviewItem
	Stats domain.Stats
}

// Regenerate asks for a new suggestion for a biased item and reopens it for
// review. A failed suggestion call leaves the item untouched.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID, itemID string) (RegenerateResult, error) {
	snap, err := o.store.Get(sessionID)
	if err != nil {
		return RegenerateResult{}, storeError(err)
	}
	idx := snap.FindItem(itemID)
	if idx < 0 {
		return RegenerateResult{}, storeError(session.ErrItemNotFound)
	}
	item := snap.Items[idx]
	if snap.Status == domain.SessionCompleted {
		return RegenerateResult{}, storeError(session.ErrSessionCompleted)
	}
	if !item.IsBiased {
		return RegenerateResult{}, newError(KindInvalidArgument, "sentence is not flagged as biased", nil)
	}
	if o.suggester == nil {
		return RegenerateResult{}, newError(KindUpstreamUnavailable, "suggestion service is not configured", gateway.ErrUnavailable)
	}

	cctx, cancel := o.callCtx(ctx)
	text, err := o.suggester.Suggest(cctx, gateway.SuggestRequest{
		Sentence: item.OriginalText,
		Category: string(item.Category),
		Context:  neighbourItems(snap.Items, idx),
	})
	cancel()
	if err != nil {
		o.logger.Warn("Regeneration failed", "session_id", sessionID, "sentence_id", itemID, "error", err)
		if errors.Is(err, gateway.ErrUnavailable) {
			return RegenerateResult{}, newError(KindUpstreamUnavailable, err.Error(), err)
		}
		return RegenerateResult{}, newError(KindUpstreamFailure, err.Error(), err)
	}

	if err := o.store.UpdateItemSuggestion(sessionID, itemID, text); err != nil {
		return RegenerateResult{}, storeError(err)
	}

	updated, err := o.store.GetItem(sessionID, itemID)
	if err != nil {
		return RegenerateResult{}, storeError(err)
	}
	st, _ := o.store.Stats(sessionID)

	o.emit(ctx, domain.ReviewEvent{
		Type:       domain.EventSuggestionRegenerated,
		SessionID:  sessionID,
		SentenceID: itemID,
		ItemStatus: updated.Status,
		Text:       text,
		Stats:      st,
	})
	return RegenerateResult{Item: updated, Stats: st}, nil
}

func neighbourItems(items []domain.ReviewItem, i int) string {
	texts := make([]string, len(items))
	for j := range items {
		texts[j] = items[j].OriginalText
	}
	return neighbours(texts, i)
}

// FinalizeResult is the regenerated document.
type FinalizeResult struct {
	Document       []byte
	ContentType    string
	Filename       string
	ChangesApplied int
	TotalSentences int
	Details        []gateway.RenderDetail
}

// Finalize renders the document with every approved rewrite applied and
// completes the session. The session is completed only if no decision
// landed while the render was in flight; a failed render leaves it open.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID string) (FinalizeResult, error) {
	snap, err := o.store.Get(sessionID)
	if err != nil {
		return FinalizeResult{}, storeError(err)
	}
	if !snap.ReadyForFinalization() {
		return FinalizeResult{}, incompleteError(snap.Stats())
	}
	if o.renderer == nil {
		return FinalizeResult{}, newError(KindUpstreamUnavailable, "document renderer is not configured", gateway.ErrUnavailable)
	}

	subs := make([]gateway.Substitution, 0, len(snap.Items))
	changes := 0
	for _, item := range snap.Items {
		final := item.FinalText()
		modified := final != item.OriginalText
		if modified {
			changes++
		}
		subs = append(subs, gateway.Substitution{
			OriginalText: item.OriginalText,
			FinalText:    final,
			WasModified:  modified,
		})
	}

	outName := OutputFilename(snap.SourceFilename)
	cctx, cancel := o.callCtx(ctx)
	rendered, err := o.renderer.Render(cctx, gateway.RenderRequest{
		Document:      snap.DocumentBytes,
		ContentType:   snap.ContentType,
		OutputName:    outName,
		Substitutions: subs,
	})
	cancel()
	if err != nil {
		o.logger.Error("Render failed", "session_id", sessionID, "error", err)
		if errors.Is(err, gateway.ErrUnavailable) {
			return FinalizeResult{}, newError(KindUpstreamUnavailable, "document renderer unavailable", err)
		}
		return FinalizeResult{}, newError(KindRenderFailure, "document render failed", err)
	}

	if err := o.store.CompleteIfUnchanged(sessionID, snap.Revision); err != nil {
		if errors.Is(err, session.ErrRevisionChanged) {
			st, _ := o.store.Stats(sessionID)
			e := incompleteError(st)
			e.Message = "review changed while rendering; finalize again"
			return FinalizeResult{}, e
		}
		return FinalizeResult{}, storeError(err)
	}

	contentType := rendered.ContentType
	if contentType == "" {
		contentType = snap.ContentType
	}

	o.logger.Info("Review finalized", "session_id", sessionID, "changes_applied", changes, "output", outName)
	o.emit(ctx, domain.ReviewEvent{
		Type:          domain.EventSessionFinalized,
		SessionID:     sessionID,
		SessionStatus: domain.SessionCompleted,
		Stats:         snap.Stats(),
	})

	return FinalizeResult{
		Document:       rendered.Document,
		ContentType:    contentType,
		Filename:       outName,
		ChangesApplied: changes,
		TotalSentences: len(snap.Items),
		Details:        rendered.Details,
	}, nil
}

// OutputFilename names the regenerated document after its source.
func OutputFilename(source string) string {
	base := filepath.Base(strings.TrimSpace(source))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	return "debiased_" + base
}

func incompleteError(st domain.Stats) *Error {
	return &Error{
		Kind:              KindIncompleteReview,
		Message:           fmt.Sprintf("%d sentence(s) still need review", st.Outstanding()),
		Pending:           st.Pending,
		NeedsRegeneration: st.NeedsRegeneration,
	}
}

// StatusResult is a consistent view of a session.
type StatusResult struct {
	Session domain.ReviewSession
	Stats   domain.Stats
	Ready   bool
}

// GetStatus returns the session with its counts.
func (o *Orchestrator) GetStatus(_ context.Context, sessionID string) (StatusResult, error) {
	snap, err := o.store.Get(sessionID)
	if err != nil {
		return StatusResult{}, storeError(err)
	}
	return StatusResult{Session: snap, Stats: snap.Stats(), Ready: snap.ReadyForFinalization()}, nil
}

// Delete removes a session.
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	if err := o.store.Delete(sessionID); err != nil {
		return storeError(err)
	}
	o.emit(ctx, domain.ReviewEvent{Type: domain.EventSessionDeleted, SessionID: sessionID})
	return nil
}

// SessionExpired records the eviction of a session by the sweeper.
func (o *Orchestrator) SessionExpired(sessionID string) {
	o.emit(context.Background(), domain.ReviewEvent{Type: domain.EventSessionExpired, SessionID: sessionID})
}

// HealthReport summarizes gateway availability.
type HealthReport struct {
	Status         string `json:"status"`
	Classifier     string `json:"classifier"`
	Suggester      bool   `json:"suggester_available"`
	Refiner        bool   `json:"refiner_available"`
	Renderer       bool   `json:"renderer_available"`
	ActiveSessions int    `json:"active_sessions"`
}

// Health reports which gateways are usable. The classifier is probed when
// it supports health checks.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	r := HealthReport{
		Status:         "healthy",
		Classifier:     "ok",
		Suggester:      o.suggester != nil,
		Refiner:        o.refiner != nil,
		Renderer:       o.renderer != nil,
		ActiveSessions: o.store.Len(),
	}

	switch c := o.classifier.(type) {
	case nil:
		r.Classifier = "not_configured"
	case gateway.HealthChecker:
		cctx, cancel := o.callCtx(ctx)
		defer cancel()
		if err := c.Health(cctx); err != nil {
			o.logger.Warn("Classifier health check failed", "error", err)
			r.Classifier = "unreachable"
		}
	}
	if r.Classifier != "ok" {
		r.Status = "degraded"
	}
	return r
}

// storeError maps session store errors onto the error taxonomy.
func storeError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return newError(KindNotFound, "session not found", err)
	case errors.Is(err, session.ErrItemNotFound):
		return newError(KindNotFound, "sentence not found", err)
	case errors.Is(err, session.ErrInvalidTransition):
		return newError(KindInvalidArgument, "decision not allowed in the sentence's current state", err)
	case errors.Is(err, session.ErrSessionCompleted):
		return newError(KindInvalidArgument, "session is already completed", err)
	case errors.Is(err, session.ErrNothingToApprove):
		return newError(KindInvalidArgument, "no suggestion to approve; provide approved text", err)
	default:
		return fmt.Errorf("session store: %w", err)
	}
}

// emit records and publishes an event. Neither can fail the operation.
func (o *Orchestrator) emit(ctx context.Context, ev domain.ReviewEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.ReviewerID == "" {
		ev.ReviewerID = identity.ReviewerIDFromContext(ctx)
	}
	if o.audit != nil {
		if err := o.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
			o.logger.Warn("Failed to record audit event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
		}
	}
	if o.notifier != nil {
		o.notifier.Publish(ev)
	}
}
