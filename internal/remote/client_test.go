package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/internal/model"
)

func TestListConversationsEncodesWindowParams(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Conversations": []map[string]any{
				{
					"ID":      "c1",
					"Subject": "hello",
					"Time":    int64(200),
					"Labels": []map[string]any{
						{"ID": "0", "ContextNumUnread": 1, "ContextTime": int64(200)},
					},
				},
			},
			"Total": 1,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token", 0, zap.NewNop())
	convs, err := client.ListConversations(context.Background(), model.GetListParams{
		UserID:   "u1",
		Page:     0,
		PageSize: 50,
		LabelID:  "0",
		Sort:     "Time",
		Desc:     true,
		End:      1700000000,
		EndID:    "c9",
		Keyword:  "invoice",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, []string{"0"}, gotQuery["Page"])
	assert.Equal(t, []string{"50"}, gotQuery["PageSize"])
	assert.Equal(t, []string{"0"}, gotQuery["LabelID"])
	assert.Equal(t, []string{"Time"}, gotQuery["Sort"])
	assert.Equal(t, []string{"1"}, gotQuery["Desc"])
	assert.Equal(t, []string{"1700000000"}, gotQuery["End"])
	assert.Equal(t, []string{"c9"}, gotQuery["EndID"])
	assert.Equal(t, []string{"invoice"}, gotQuery["Keyword"])
	assert.NotContains(t, gotQuery, "Begin")
	assert.NotContains(t, gotQuery, "BeginID")

	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, "u1", convs[0].UserID)
	require.Len(t, convs[0].Labels, 1)
	assert.Equal(t, 1, convs[0].Labels[0].NumUnread)
	assert.Equal(t, int64(200), convs[0].Labels[0].Time)
}

func TestListLabelsMapsExclusivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mail/v4/labels", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Labels": []map[string]any{
				{"ID": "customfolderidwithlongname", "Name": "Receipts", "Exclusive": 1, "Order": 1},
				{"ID": "customlabelidwithlongname", "Name": "Travel", "Exclusive": 0, "Order": 2},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token", 0, zap.NewNop())
	labels, err := client.ListLabels(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, labels, 2)
	assert.Equal(t, "u1", labels[0].UserID)
	assert.True(t, labels[0].Exclusive)
	assert.False(t, labels[1].Exclusive)
	assert.Equal(t, "Travel", labels[1].Name)
}

func TestGetConversationMapsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mail/v4/conversations/c1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Conversation": map[string]any{"ID": "c1", "Subject": "hello"},
			"Messages": []map[string]any{
				{"ID": "m1", "ConversationID": "c1", "Unread": 1, "LabelIDs": []string{"0", "5"}, "Time": int64(100)},
				{"ID": "m2", "ConversationID": "c1", "Unread": 0, "LabelIDs": []string{"0", "5", "10"}, "Time": int64(200)},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token", 0, zap.NewNop())
	conv, msgs, err := client.GetConversation(context.Background(), "u1", "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, "u1", conv.UserID)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Read, "unread flag inverts into Read")
	assert.False(t, msgs[0].Starred)
	assert.True(t, msgs[1].Read)
	assert.True(t, msgs[1].Starred, "starred derives from the label set")
	assert.Equal(t, "u1", msgs[1].UserID)
}

func TestMutationEndpointsAndErrorShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token", 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, client.MarkRead(ctx, "u1", []string{"c1", "c2"}))
	assert.Equal(t, "/mail/v4/conversations/read", gotPath)
	assert.Equal(t, []any{"c1", "c2"}, gotBody["IDs"])

	require.NoError(t, client.LabelAdd(ctx, "u1", []string{"c1"}, "6"))
	assert.Equal(t, "/mail/v4/conversations/label", gotPath)
	assert.Equal(t, "6", gotBody["LabelID"])

	require.NoError(t, client.LabelRemove(ctx, "u1", []string{"c1"}, "10"))
	assert.Equal(t, "/mail/v4/conversations/unlabel", gotPath)

	require.NoError(t, client.MarkUnread(ctx, "u1", []string{"c1"}, "0"))
	assert.Equal(t, "/mail/v4/conversations/unread", gotPath)

	status = http.StatusBadGateway
	err := client.MarkRead(ctx, "u1", []string{"c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail api returned 502")
}
