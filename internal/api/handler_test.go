package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/internal/model"
	"mailsync/internal/sync"
	"mailsync/pkg/outbox"
)

type fakeParams struct {
	published []model.GetListParams
}

func (f *fakeParams) LoadMore(p model.GetListParams) {
	f.published = append(f.published, p)
}

type fakePager struct {
	calls int
}

func (f *fakePager) LoadMore() {
	f.calls++
}

type fakeCache struct {
	detail      *sync.Detail
	err         error
	invalidated []string
}

func (f *fakeCache) Get(ctx context.Context, userID, conversationID string) (*sync.Detail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detail, nil
}

func (f *fakeCache) Invalidate(ctx context.Context, userID, conversationID string) error {
	f.invalidated = append(f.invalidated, userID+"/"+conversationID)
	return nil
}

type fakeMutator struct {
	ops []string
	err error
}

func (f *fakeMutator) MarkRead(ctx context.Context, userID string, ids []string) error {
	f.ops = append(f.ops, "mark_read")
	return f.err
}

func (f *fakeMutator) MarkUnread(ctx context.Context, userID string, ids []string, locationID string) error {
	f.ops = append(f.ops, "mark_unread:"+locationID)
	return f.err
}

func (f *fakeMutator) Star(ctx context.Context, userID string, ids []string) error {
	f.ops = append(f.ops, "star")
	return f.err
}

func (f *fakeMutator) Unstar(ctx context.Context, userID string, ids []string) error {
	f.ops = append(f.ops, "unstar")
	return f.err
}

func (f *fakeMutator) Move(ctx context.Context, userID string, ids []string, folderID string) error {
	f.ops = append(f.ops, "move:"+folderID)
	return f.err
}

type fakeConvStore struct {
	convs   []model.Conversation
	cleared []string
}

func (f *fakeConvStore) ListByLabel(ctx context.Context, userID, labelID string) ([]model.Conversation, error) {
	return f.convs, nil
}

func (f *fakeConvStore) Clear(ctx context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeMsgStore struct {
	cleared []string
}

func (f *fakeMsgStore) Clear(ctx context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeRefresher struct {
	refreshed []string
	err       error
}

func (f *fakeRefresher) Refresh(ctx context.Context, userID string) error {
	f.refreshed = append(f.refreshed, userID)
	return f.err
}

type fakeOutboxAdmin struct {
	events   map[int64]*outbox.Event
	replayed []int64
}

func (f *fakeOutboxAdmin) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var out []*outbox.Event
	for _, e := range f.events {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeOutboxAdmin) GetEventByID(ctx context.Context, eventID int64) (*outbox.Event, error) {
	e, ok := f.events[eventID]
	if !ok {
		return nil, errors.New("event not found")
	}
	return e, nil
}

func (f *fakeOutboxAdmin) ReplayEvent(ctx context.Context, eventID int64) error {
	f.replayed = append(f.replayed, eventID)
	return nil
}

type handlerFixture struct {
	params  *fakeParams
	pager   *fakePager
	cache   *fakeCache
	mutator *fakeMutator
	convs   *fakeConvStore
	msgs    *fakeMsgStore
	labels  *fakeRefresher
	admin   *fakeOutboxAdmin
	server  *httptest.Server
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		params:  &fakeParams{},
		pager:   &fakePager{},
		cache:   &fakeCache{detail: &sync.Detail{Conversation: &model.Conversation{ID: "c1", UserID: "u1"}}},
		mutator: &fakeMutator{},
		convs:   &fakeConvStore{},
		msgs:    &fakeMsgStore{},
		labels:  &fakeRefresher{},
		admin:   &fakeOutboxAdmin{events: make(map[int64]*outbox.Event)},
	}
	h := NewHandler(f.params, f.pager, f.cache, f.mutator, f.convs, f.msgs, f.labels, f.admin, 50, zap.NewNop())
	mux := http.NewServeMux()
	h.Register(mux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartSyncRefreshesLabelsAndPublishesParams(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/sync", map[string]string{"user_id": "u1", "label_id": "5"})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"u1"}, f.labels.refreshed)
	require.Len(t, f.params.published, 1)
	p := f.params.published[0]
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "5", p.LabelID)
	assert.Equal(t, 50, p.PageSize)
	assert.True(t, p.Desc)
}

func TestStartSyncProceedsWhenLabelRefreshFails(t *testing.T) {
	f := newHandlerFixture(t)
	f.labels.err = errors.New("mail api returned 500 for /mail/v4/labels")

	resp := f.do(t, http.MethodPost, "/v1/sync", map[string]string{"user_id": "u1", "label_id": "0"})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, f.params.published, 1, "listing still starts on a stale label directory")
}

func TestStartSyncRejectsMissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/sync", map[string]string{"user_id": "u1"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.params.published)
	assert.Empty(t, f.labels.refreshed)
}

func TestLoadMoreContinuesListing(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/sync/more", nil)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.pager.calls)
}

func TestMoveDelegatesToCoordinator(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPut, "/v1/conversations/move", map[string]any{
		"user_id":          "u1",
		"conversation_ids": []string{"c1", "c2"},
		"label_id":         "6",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"move:6"}, f.mutator.ops)
}

func TestMutationRejectsEmptyConversationList(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPut, "/v1/conversations/read", map[string]any{"user_id": "u1"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.mutator.ops)
}

func TestClearCacheDropsMessagesAndConversations(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/cache/clear", map[string]string{"user_id": "u1"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"u1"}, f.msgs.cleared)
	assert.Equal(t, []string{"u1"}, f.convs.cleared)
}

func TestReplayEventRequiresExistingEvent(t *testing.T) {
	f := newHandlerFixture(t)
	f.admin.events[42] = &outbox.Event{ID: 42, RoutingKey: "conversation.move", Status: "failed"}

	resp := f.do(t, http.MethodPost, "/v1/outbox/42/replay", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{42}, f.admin.replayed)

	resp = f.do(t, http.MethodPost, "/v1/outbox/99/replay", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []int64{42}, f.admin.replayed)
}

func TestFailedEventsListsParkedOutbox(t *testing.T) {
	f := newHandlerFixture(t)
	f.admin.events[7] = &outbox.Event{ID: 7, RoutingKey: "conversation.mark_read", Status: "failed"}

	resp := f.do(t, http.MethodGet, "/v1/outbox/failed", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Events []outbox.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, int64(7), body.Events[0].ID)
}
