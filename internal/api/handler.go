package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mailsync/internal/model"
	"mailsync/internal/sync"
	"mailsync/pkg/outbox"
	"mailsync/pkg/trace"
)

// ParamPublisher accepts fresh list parameters for reconciliation.
type ParamPublisher interface {
	LoadMore(p model.GetListParams)
}

// Pager continues the current listing from its bookmark.
type Pager interface {
	LoadMore()
}

// DetailCache serves single conversations through the local cache.
type DetailCache interface {
	Get(ctx context.Context, userID, conversationID string) (*sync.Detail, error)
	Invalidate(ctx context.Context, userID, conversationID string) error
}

// Mutator applies optimistic mailbox mutations.
type Mutator interface {
	MarkRead(ctx context.Context, userID string, conversationIDs []string) error
	MarkUnread(ctx context.Context, userID string, conversationIDs []string, locationID string) error
	Star(ctx context.Context, userID string, conversationIDs []string) error
	Unstar(ctx context.Context, userID string, conversationIDs []string) error
	Move(ctx context.Context, userID string, conversationIDs []string, folderID string) error
}

// ConversationStore reads list snapshots and clears the per-user cache.
type ConversationStore interface {
	ListByLabel(ctx context.Context, userID, labelID string) ([]model.Conversation, error)
	Clear(ctx context.Context, userID string) error
}

// MessageStore clears the per-user message cache.
type MessageStore interface {
	Clear(ctx context.Context, userID string) error
}

// LabelRefresher mirrors the remote label directory locally.
type LabelRefresher interface {
	Refresh(ctx context.Context, userID string) error
}

// OutboxAdmin exposes replay tooling for parked outbox events.
type OutboxAdmin interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
	GetEventByID(ctx context.Context, eventID int64) (*outbox.Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
}

// Handler exposes the sync layer over a small JSON API: kick off or
// continue a listing, fetch a single conversation through the cache,
// apply mailbox mutations, and administer the cache and outbox.
type Handler struct {
	params      ParamPublisher
	engine      Pager
	cache       DetailCache
	coordinator Mutator
	convs       ConversationStore
	msgs        MessageStore
	labels      LabelRefresher
	outbox      OutboxAdmin
	logger      *zap.Logger
	pageSize    int
}

func NewHandler(
	params ParamPublisher,
	engine Pager,
	cache DetailCache,
	coordinator Mutator,
	convs ConversationStore,
	msgs MessageStore,
	labels LabelRefresher,
	outboxAdmin OutboxAdmin,
	pageSize int,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		params:      params,
		engine:      engine,
		cache:       cache,
		coordinator: coordinator,
		convs:       convs,
		msgs:        msgs,
		labels:      labels,
		outbox:      outboxAdmin,
		logger:      logger,
		pageSize:    pageSize,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sync", withTrace(h.startSync))
	mux.HandleFunc("POST /v1/sync/more", withTrace(h.loadMore))
	mux.HandleFunc("GET /v1/conversations", withTrace(h.listConversations))
	mux.HandleFunc("GET /v1/conversations/{id}", withTrace(h.getConversation))
	mux.HandleFunc("DELETE /v1/conversations/{id}", withTrace(h.invalidateConversation))
	mux.HandleFunc("PUT /v1/conversations/read", withTrace(h.markRead))
	mux.HandleFunc("PUT /v1/conversations/unread", withTrace(h.markUnread))
	mux.HandleFunc("PUT /v1/conversations/star", withTrace(h.star))
	mux.HandleFunc("PUT /v1/conversations/unstar", withTrace(h.unstar))
	mux.HandleFunc("PUT /v1/conversations/move", withTrace(h.move))
	mux.HandleFunc("POST /v1/cache/clear", withTrace(h.clearCache))
	mux.HandleFunc("GET /v1/outbox/failed", withTrace(h.failedEvents))
	mux.HandleFunc("POST /v1/outbox/{id}/replay", withTrace(h.replayEvent))
}

// withTrace picks up the caller's trace id, or mints one, so log lines
// and MQ messages downstream correlate back to the request.
func withTrace(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		w.Header().Set(trace.HeaderName(), traceID)
		next(w, r.WithContext(trace.WithContext(r.Context(), traceID)))
	}
}

type syncRequest struct {
	UserID  string `json:"user_id"`
	LabelID string `json:"label_id"`
	Keyword string `json:"keyword"`
}

func (h *Handler) startSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.LabelID == "" {
		writeError(w, http.StatusBadRequest, "user_id and label_id are required")
		return
	}

	// Refresh the label directory so move exclusivity checks see the
	// current folder set. Failure is not fatal to the listing.
	if err := h.labels.Refresh(r.Context(), req.UserID); err != nil {
		h.logger.Warn("Label directory refresh failed", zap.Error(err))
	}

	h.params.LoadMore(model.GetListParams{
		UserID:   req.UserID,
		LabelID:  req.LabelID,
		PageSize: h.pageSize,
		Sort:     "Time",
		Desc:     true,
		Keyword:  req.Keyword,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

func (h *Handler) loadMore(w http.ResponseWriter, r *http.Request) {
	h.engine.LoadMore()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	labelID := r.URL.Query().Get("label_id")
	if userID == "" || labelID == "" {
		writeError(w, http.StatusBadRequest, "user_id and label_id are required")
		return
	}

	convs, err := h.convs.ListByLabel(r.Context(), userID, labelID)
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	detail, err := h.cache.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.logger.Error("Failed to get conversation", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) invalidateConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.cache.Invalidate(r.Context(), userID, r.PathValue("id")); err != nil {
		h.logger.Error("Failed to invalidate conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to invalidate conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

type clearRequest struct {
	UserID string `json:"user_id"`
}

// clearCache drops every locally cached conversation and message for a
// user (logout / account switch).
func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.msgs.Clear(r.Context(), req.UserID); err != nil {
		h.logger.Error("Failed to clear message cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	if err := h.convs.Clear(r.Context(), req.UserID); err != nil {
		h.logger.Error("Failed to clear conversation cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) failedEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.outbox.GetFailedEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list failed outbox events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list failed events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	if _, err := h.outbox.GetEventByID(r.Context(), eventID); err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err := h.outbox.ReplayEvent(r.Context(), eventID); err != nil {
		h.logger.Error("Failed to replay outbox event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to replay event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replayed"})
}

type mutationRequest struct {
	UserID          string   `json:"user_id"`
	ConversationIDs []string `json:"conversation_ids"`
	LabelID         string   `json:"label_id"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(req *mutationRequest) error {
		return h.coordinator.MarkRead(r.Context(), req.UserID, req.ConversationIDs)
	})
}

func (h *Handler) markUnread(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(req *mutationRequest) error {
		return h.coordinator.MarkUnread(r.Context(), req.UserID, req.ConversationIDs, req.LabelID)
	})
}

func (h *Handler) star(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(req *mutationRequest) error {
		return h.coordinator.Star(r.Context(), req.UserID, req.ConversationIDs)
	})
}

func (h *Handler) unstar(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(req *mutationRequest) error {
		return h.coordinator.Unstar(r.Context(), req.UserID, req.ConversationIDs)
	})
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(req *mutationRequest) error {
		return h.coordinator.Move(r.Context(), req.UserID, req.ConversationIDs, req.LabelID)
	})
}

func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, apply func(*mutationRequest) error) {
	var req mutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || len(req.ConversationIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_id and conversation_ids are required")
		return
	}

	if err := apply(&req); err != nil {
		h.logger.Error("Mutation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "mutation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
