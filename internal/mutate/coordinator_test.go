package mutate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "mailsync/contracts/mq"
	"mailsync/internal/model"
)

type fakeConvStore struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: make(map[string]*model.Conversation)}
}

func (s *fakeConvStore) put(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.UserID+"/"+c.ID] = &c
}

func (s *fakeConvStore) GetByID(ctx context.Context, userID, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[userID+"/"+id]
	if !ok {
		return nil, errors.New("conversation not found")
	}
	// Return a snapshot, the way a row scan would.
	cp := *c
	cp.Labels = append([]model.LabelContext(nil), c.Labels...)
	return &cp, nil
}

func (s *fakeConvStore) SetNumUnread(ctx context.Context, userID, id string, numUnread int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[userID+"/"+id].NumUnread = numUnread
	return nil
}

func (s *fakeConvStore) AddNumUnread(ctx context.Context, userID, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[userID+"/"+id]
	c.NumUnread += delta
	if c.NumUnread < 0 {
		c.NumUnread = 0
	}
	return nil
}

func (s *fakeConvStore) ApplyLabelContext(ctx context.Context, userID, id string, lc model.LabelContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[userID+"/"+id].ApplyLabelContext(lc)
	return nil
}

func (s *fakeConvStore) RemoveLabelContext(ctx context.Context, userID, id, labelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[userID+"/"+id].RemoveLabelContext(labelID)
	return nil
}

type fakeMsgStore struct {
	mu   sync.Mutex
	msgs map[string]*model.Message
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{msgs: make(map[string]*model.Message)}
}

func (s *fakeMsgStore) put(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[m.UserID+"/"+m.ID] = &m
}

func (s *fakeMsgStore) get(userID, id string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.msgs[userID+"/"+id]
}

func (s *fakeMsgStore) ListByConversation(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.UserID == userID && m.ConversationID == conversationID {
			cp := *m
			cp.LabelIDs = append([]string(nil), m.LabelIDs...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time > out[j].Time })
	return out, nil
}

func (s *fakeMsgStore) MarkConversationRead(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.UserID == userID && m.ConversationID == conversationID {
			m.Read = true
		}
	}
	return nil
}

func (s *fakeMsgStore) SetRead(ctx context.Context, userID, messageID string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[userID+"/"+messageID].Read = read
	return nil
}

func (s *fakeMsgStore) SetConversationStarred(ctx context.Context, userID, conversationID string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.UserID == userID && m.ConversationID == conversationID {
			m.Starred = starred
		}
	}
	return nil
}

func (s *fakeMsgStore) UpdateLabels(ctx context.Context, userID, messageID string, labelIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[userID+"/"+messageID].LabelIDs = append([]string(nil), labelIDs...)
	return nil
}

type fakeLabelStore struct {
	exclusive map[string]bool
}

func (s *fakeLabelStore) IsExclusive(ctx context.Context, userID, id string) (bool, error) {
	// Unknown ids behave like plain labels, matching the repository.
	return s.exclusive[id], nil
}

type enqueuedOp struct {
	routingKey string
	op         mqcontracts.LabelOpPayload
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ops []enqueuedOp
	err error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, routingKey string, op *mqcontracts.LabelOpPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.ops = append(e.ops, enqueuedOp{routingKey: routingKey, op: *op})
	return nil
}

func (e *fakeEnqueuer) last(t *testing.T) enqueuedOp {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.ops)
	return e.ops[len(e.ops)-1]
}

type coordinatorFixture struct {
	convs    *fakeConvStore
	msgs     *fakeMsgStore
	labels   *fakeLabelStore
	enqueuer *fakeEnqueuer
	coord    *Coordinator
}

func newCoordinatorFixture() *coordinatorFixture {
	f := &coordinatorFixture{
		convs:    newFakeConvStore(),
		msgs:     newFakeMsgStore(),
		labels:   &fakeLabelStore{exclusive: make(map[string]bool)},
		enqueuer: &fakeEnqueuer{},
	}
	f.coord = NewCoordinator(f.convs, f.msgs, f.labels, f.enqueuer, zap.NewNop())
	return f
}

func TestMarkReadZeroesUnreadAndEnqueues(t *testing.T) {
	f := newCoordinatorFixture()
	f.convs.put(model.Conversation{ID: "c1", UserID: "u1", NumUnread: 2})
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 100})
	f.msgs.put(model.Message{ID: "m2", ConversationID: "c1", UserID: "u1", Time: 200})

	err := f.coord.MarkRead(context.Background(), "u1", []string{"c1"})
	require.NoError(t, err)

	conv, err := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.NumUnread)
	assert.True(t, f.msgs.get("u1", "m1").Read)
	assert.True(t, f.msgs.get("u1", "m2").Read)

	last := f.enqueuer.last(t)
	assert.Equal(t, mqcontracts.RoutingMarkRead, last.routingKey)
	assert.Equal(t, "mark_read", last.op.Op)
	assert.Equal(t, []string{"c1"}, last.op.ConversationIDs)
}

func TestMarkUnreadFlipsMostRecentMessageInViewedLocation(t *testing.T) {
	f := newCoordinatorFixture()
	f.convs.put(model.Conversation{ID: "c1", UserID: "u1", NumUnread: 0})
	// Newest message sits in Archive, so the Inbox view must flip the
	// second newest.
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 300, Read: true, LabelIDs: []string{model.LabelArchive, model.LabelAllMail}})
	f.msgs.put(model.Message{ID: "m2", ConversationID: "c1", UserID: "u1", Time: 200, Read: true, LabelIDs: []string{model.LabelInbox, model.LabelAllMail}})
	f.msgs.put(model.Message{ID: "m3", ConversationID: "c1", UserID: "u1", Time: 100, Read: true, LabelIDs: []string{model.LabelInbox, model.LabelAllMail}})

	err := f.coord.MarkUnread(context.Background(), "u1", []string{"c1"}, model.LabelInbox)
	require.NoError(t, err)

	conv, err := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.NumUnread)
	assert.True(t, f.msgs.get("u1", "m1").Read, "message outside the viewed location stays read")
	assert.False(t, f.msgs.get("u1", "m2").Read, "most recent message in the viewed location flips")
	assert.True(t, f.msgs.get("u1", "m3").Read, "only one message flips")

	last := f.enqueuer.last(t)
	assert.Equal(t, mqcontracts.RoutingMarkUnread, last.routingKey)
	assert.Equal(t, model.LabelInbox, last.op.LabelID)
}

func TestStarThenUnstarRoundTrips(t *testing.T) {
	f := newCoordinatorFixture()
	f.convs.put(model.Conversation{ID: "c1", UserID: "u1"})
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 100, Read: true, LabelIDs: []string{model.LabelInbox, model.LabelAllMail}})
	f.msgs.put(model.Message{ID: "m2", ConversationID: "c1", UserID: "u1", Time: 200, LabelIDs: []string{model.LabelInbox, model.LabelAllMail}})

	require.NoError(t, f.coord.Star(context.Background(), "u1", []string{"c1"}))

	for _, id := range []string{"m1", "m2"} {
		m := f.msgs.get("u1", id)
		assert.True(t, m.Starred)
		assert.Contains(t, m.LabelIDs, model.LabelStarred)
	}
	conv, err := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.True(t, conv.HasLabel(model.LabelStarred))
	starredTime, _ := conv.ContextTime(model.LabelStarred)
	assert.Equal(t, int64(200), starredTime, "context time is the latest message time")

	last := f.enqueuer.last(t)
	assert.Equal(t, mqcontracts.RoutingLabelAdd, last.routingKey)
	assert.Equal(t, model.LabelStarred, last.op.LabelID)

	require.NoError(t, f.coord.Unstar(context.Background(), "u1", []string{"c1"}))

	for _, id := range []string{"m1", "m2"} {
		m := f.msgs.get("u1", id)
		assert.False(t, m.Starred)
		assert.NotContains(t, m.LabelIDs, model.LabelStarred)
	}
	conv, err = f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, conv.HasLabel(model.LabelStarred))

	last = f.enqueuer.last(t)
	assert.Equal(t, mqcontracts.RoutingLabelRemove, last.routingKey)
	assert.Equal(t, "label_remove", last.op.Op)
}

func TestMoveRelabelsMessagesAndContexts(t *testing.T) {
	f := newCoordinatorFixture()
	f.convs.put(model.Conversation{
		ID:     "c1",
		UserID: "u1",
		Labels: []model.LabelContext{
			{ID: model.LabelInbox, Time: 200},
			{ID: model.LabelAllMail, Time: 200},
			{ID: model.LabelStarred, Time: 200},
		},
	})
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 100, Read: true, LabelIDs: []string{model.LabelInbox, model.LabelAllMail, model.LabelStarred}})
	f.msgs.put(model.Message{ID: "m2", ConversationID: "c1", UserID: "u1", Time: 200, LabelIDs: []string{model.LabelInbox, model.LabelAllMail}})

	err := f.coord.Move(context.Background(), "u1", []string{"c1"}, model.LabelArchive)
	require.NoError(t, err)

	m1 := f.msgs.get("u1", "m1")
	assert.ElementsMatch(t, []string{model.LabelAllMail, model.LabelStarred, model.LabelArchive}, m1.LabelIDs)
	m2 := f.msgs.get("u1", "m2")
	assert.ElementsMatch(t, []string{model.LabelAllMail, model.LabelArchive}, m2.LabelIDs)

	conv, err := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, conv.HasLabel(model.LabelInbox), "old location context dropped")
	assert.True(t, conv.HasLabel(model.LabelAllMail))
	assert.True(t, conv.HasLabel(model.LabelStarred))
	require.True(t, conv.HasLabel(model.LabelArchive))
	archiveTime, _ := conv.ContextTime(model.LabelArchive)
	assert.Equal(t, int64(200), archiveTime)

	last := f.enqueuer.last(t)
	assert.Equal(t, mqcontracts.RoutingLabelAdd, last.routingKey)
	assert.Equal(t, model.LabelArchive, last.op.LabelID)
}

func TestMoveStripsExclusiveCustomFolders(t *testing.T) {
	f := newCoordinatorFixture()
	f.labels.exclusive["customfolderidwithlongname"] = true
	f.labels.exclusive["customlabelidwithlongname"] = false
	f.convs.put(model.Conversation{
		ID:     "c1",
		UserID: "u1",
		Labels: []model.LabelContext{
			{ID: "customfolderidwithlongname", Time: 100},
			{ID: "customlabelidwithlongname", Time: 100},
			{ID: model.LabelAllMail, Time: 100},
		},
	})
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 100, LabelIDs: []string{"customfolderidwithlongname", "customlabelidwithlongname", model.LabelAllMail}})

	err := f.coord.Move(context.Background(), "u1", []string{"c1"}, model.LabelTrash)
	require.NoError(t, err)

	m1 := f.msgs.get("u1", "m1")
	assert.NotContains(t, m1.LabelIDs, "customfolderidwithlongname")
	assert.Contains(t, m1.LabelIDs, "customlabelidwithlongname")
	assert.Contains(t, m1.LabelIDs, model.LabelTrash)

	conv, err := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, conv.HasLabel("customfolderidwithlongname"))
	assert.True(t, conv.HasLabel("customlabelidwithlongname"))
	assert.True(t, conv.HasLabel(model.LabelTrash))
}

func TestMutationFailedEnqueueSurfaces(t *testing.T) {
	f := newCoordinatorFixture()
	f.enqueuer.err = errors.New("insert outbox event: connection refused")
	f.convs.put(model.Conversation{ID: "c1", UserID: "u1", NumUnread: 1})
	f.msgs.put(model.Message{ID: "m1", ConversationID: "c1", UserID: "u1", Time: 100})

	err := f.coord.MarkRead(context.Background(), "u1", []string{"c1"})
	require.Error(t, err)

	// The optimistic local mutation sticks even when the enqueue fails.
	conv, getErr := f.convs.GetByID(context.Background(), "u1", "c1")
	require.NoError(t, getErr)
	assert.Equal(t, 0, conv.NumUnread)
}
