package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"course-chat/internal/models"
)

// APIClient is the REST side of the collaborator surface: login, community
// listing and history fetches. It satisfies HistoryAPI.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the bearer credential used by every subsequent call.
func (c *APIClient) SetToken(token string) {
	c.token = token
}

func (c *APIClient) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.post(ctx, "/login", models.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *APIClient) Register(ctx context.Context, username, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.post(ctx, "/register", models.RegisterRequest{Username: username, Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *APIClient) ListCommunities(ctx context.Context) ([]*models.Community, error) {
	var out []*models.Community
	if err := c.get(ctx, "/community", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CommunityHistory implements HistoryAPI over GET /chat/messages/{roomId}.
func (c *APIClient) CommunityHistory(ctx context.Context, roomID int) ([]Message, error) {
	var raw []*models.Message
	if err := c.get(ctx, fmt.Sprintf("/chat/messages/%d", roomID), &raw); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, Message{
			ID:         m.ID,
			Kind:       KindCommunity,
			Body:       m.Body,
			Sender:     m.Sender,
			SenderName: m.SenderName,
			SentAt:     m.CreatedAt,
			State:      StateConfirmed,
		})
	}
	return out, nil
}

// DirectHistory implements HistoryAPI over GET /chat/direct/{counterpart}.
func (c *APIClient) DirectHistory(ctx context.Context, counterpart string) ([]Message, error) {
	var raw []*models.DirectMessage
	if err := c.get(ctx, "/chat/direct/"+url.PathEscape(counterpart), &raw); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, Message{
			ID:         m.ID,
			Kind:       KindDirect,
			Body:       m.Body,
			Sender:     m.From,
			SenderName: m.SenderName,
			SentAt:     m.CreatedAt,
			State:      StateConfirmed,
		})
	}
	return out, nil
}

func (c *APIClient) Conversations(ctx context.Context) ([]*models.ConversationSummary, error) {
	var out []*models.ConversationSummary
	if err := c.get(ctx, "/chat/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *APIClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
