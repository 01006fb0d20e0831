package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailsync/internal/model"
	"mailsync/pkg/metrics"
)

// Client talks to the remote mail API. All failures come back as plain
// errors; callers decide how to fold them into their result streams.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(baseURL, token string, rps float64, logger *zap.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
		logger:  logger,
	}
}

type conversationDTO struct {
	ID             string
	Subject        string
	NumUnread      int
	NumMessages    int
	Size           int64
	NumAttachments int
	Order          int64
	Time           int64
	Senders        []model.Correspondent
	Recipients     []model.Correspondent
	Labels         []labelContextDTO
}

type labelContextDTO struct {
	ID                    string
	ContextNumUnread      int
	ContextNumMessages    int
	ContextTime           int64
	ContextSize           int64
	ContextNumAttachments int
}

type messageDTO struct {
	ID             string
	ConversationID string
	Subject        string
	Unread         int
	LabelIDs       []string
	Time           int64
	Size           int64
}

type labelDTO struct {
	ID        string
	Name      string
	Exclusive int
	Order     int
}

type listResponse struct {
	Conversations []conversationDTO
	Total         int
}

type labelsResponse struct {
	Labels []labelDTO
}

type detailResponse struct {
	Conversation conversationDTO
	Messages     []messageDTO
}

// ListConversations issues the paginated/windowed list query.
func (c *Client) ListConversations(ctx context.Context, params model.GetListParams) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("Page", strconv.Itoa(params.Page))
	if params.PageSize > 0 {
		q.Set("PageSize", strconv.Itoa(params.PageSize))
	}
	if params.LabelID != "" {
		q.Set("LabelID", params.LabelID)
	}
	if params.Sort != "" {
		q.Set("Sort", params.Sort)
	}
	if params.Desc {
		q.Set("Desc", "1")
	}
	if params.Begin > 0 {
		q.Set("Begin", strconv.FormatInt(params.Begin, 10))
	}
	if params.End > 0 {
		q.Set("End", strconv.FormatInt(params.End, 10))
	}
	if params.BeginID != "" {
		q.Set("BeginID", params.BeginID)
	}
	if params.EndID != "" {
		q.Set("EndID", params.EndID)
	}
	if params.Keyword != "" {
		q.Set("Keyword", params.Keyword)
	}

	var out listResponse
	if err := c.get(ctx, "/mail/v4/conversations?"+q.Encode(), &out); err != nil {
		metrics.RecordRemoteFetch("list", "error")
		return nil, err
	}
	metrics.RecordRemoteFetch("list", "success")

	convs := make([]model.Conversation, 0, len(out.Conversations))
	for i := range out.Conversations {
		convs = append(convs, out.Conversations[i].toModel(params.UserID))
	}
	return convs, nil
}

// ListLabels fetches the user's label directory. The exclusive flag is
// what the move operation consults to decide whether a custom id is a
// folder or a plain label.
func (c *Client) ListLabels(ctx context.Context, userID string) ([]model.Label, error) {
	var out labelsResponse
	if err := c.get(ctx, "/mail/v4/labels", &out); err != nil {
		metrics.RecordRemoteFetch("labels", "error")
		return nil, err
	}
	metrics.RecordRemoteFetch("labels", "success")

	labels := make([]model.Label, 0, len(out.Labels))
	for _, dto := range out.Labels {
		labels = append(labels, model.Label{
			ID:        dto.ID,
			UserID:    userID,
			Name:      dto.Name,
			Exclusive: dto.Exclusive == 1,
			Order:     dto.Order,
		})
	}
	return labels, nil
}

// GetConversation fetches a conversation's full detail with messages.
func (c *Client) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, []model.Message, error) {
	var out detailResponse
	if err := c.get(ctx, "/mail/v4/conversations/"+url.PathEscape(conversationID), &out); err != nil {
		metrics.RecordRemoteFetch("detail", "error")
		return nil, nil, err
	}
	metrics.RecordRemoteFetch("detail", "success")

	conv := out.Conversation.toModel(userID)
	msgs := make([]model.Message, 0, len(out.Messages))
	for i := range out.Messages {
		msgs = append(msgs, out.Messages[i].toModel(userID))
	}
	return &conv, msgs, nil
}

// MarkRead marks conversations read server-side.
func (c *Client) MarkRead(ctx context.Context, userID string, conversationIDs []string) error {
	return c.put(ctx, "/mail/v4/conversations/read", map[string]any{"IDs": conversationIDs})
}

// MarkUnread marks conversations unread in the given location.
func (c *Client) MarkUnread(ctx context.Context, userID string, conversationIDs []string, labelID string) error {
	return c.put(ctx, "/mail/v4/conversations/unread", map[string]any{"IDs": conversationIDs, "LabelID": labelID})
}

// LabelAdd applies a label to conversations; for exclusive folders the
// server replaces the current location.
func (c *Client) LabelAdd(ctx context.Context, userID string, conversationIDs []string, labelID string) error {
	return c.put(ctx, "/mail/v4/conversations/label", map[string]any{"IDs": conversationIDs, "LabelID": labelID})
}

// LabelRemove detaches a label from conversations.
func (c *Client) LabelRemove(ctx context.Context, userID string, conversationIDs []string, labelID string) error {
	return c.put(ctx, "/mail/v4/conversations/unlabel", map[string]any{"IDs": conversationIDs, "LabelID": labelID})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.checkToken()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail api returned %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.checkToken()

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail api returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

func (dto *conversationDTO) toModel(userID string) model.Conversation {
	labels := make([]model.LabelContext, 0, len(dto.Labels))
	for _, lc := range dto.Labels {
		labels = append(labels, model.LabelContext{
			ID:             lc.ID,
			NumUnread:      lc.ContextNumUnread,
			NumMessages:    lc.ContextNumMessages,
			Time:           lc.ContextTime,
			Size:           lc.ContextSize,
			NumAttachments: lc.ContextNumAttachments,
		})
	}
	return model.Conversation{
		ID:             dto.ID,
		UserID:         userID,
		Subject:        dto.Subject,
		NumUnread:      dto.NumUnread,
		NumMessages:    dto.NumMessages,
		Size:           dto.Size,
		NumAttachments: dto.NumAttachments,
		Order:          dto.Order,
		Time:           dto.Time,
		Senders:        dto.Senders,
		Recipients:     dto.Recipients,
		Labels:         labels,
	}
}

func (dto *messageDTO) toModel(userID string) model.Message {
	starred := false
	for _, id := range dto.LabelIDs {
		if id == model.LabelStarred {
			starred = true
			break
		}
	}
	return model.Message{
		ID:             dto.ID,
		ConversationID: dto.ConversationID,
		UserID:         userID,
		Subject:        dto.Subject,
		Read:           dto.Unread == 0,
		Starred:        starred,
		LabelIDs:       dto.LabelIDs,
		Time:           dto.Time,
		Size:           dto.Size,
	}
}
