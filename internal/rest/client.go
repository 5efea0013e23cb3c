// Package rest fetches conversation history and roster snapshots from
// the chat server's HTTP API. Raw records pass through the same
// normalizer coercions as live events so imperfect history still
// renders.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/roster"
)

// HistoryFetcher loads message history snapshots.
type HistoryFetcher interface {
	History(ctx context.Context, peerID string) ([]event.Message, error)
	GroupHistory(ctx context.Context, groupID string) ([]event.Message, error)
	PinnedMessages(ctx context.Context, conversationID string) ([]event.Message, error)
}

// RosterFetcher loads contact and group snapshots.
type RosterFetcher interface {
	Friends(ctx context.Context) ([]roster.Contact, error)
	Groups(ctx context.Context) ([]roster.Group, error)
	PendingRequests(ctx context.Context) ([]event.FriendRequest, error)
}

// Client talks to the chat server's REST API with bearer auth.
type Client struct {
	baseURL string
	token   string
	selfID  string
	client  *http.Client
	norm    *event.Normalizer
	logger  *zap.Logger
}

var (
	_ HistoryFetcher = (*Client)(nil)
	_ RosterFetcher  = (*Client)(nil)
)

// NewClient creates a REST client. An empty timeout defaults to 10s.
func NewClient(baseURL, token, selfID string, timeout time.Duration, norm *event.Normalizer, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if norm == nil {
		norm = event.NewNormalizer(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		selfID:  selfID,
		client:  &http.Client{Timeout: timeout},
		norm:    norm,
		logger:  logger,
	}
}

// History returns the direct conversation with a peer, oldest first as
// served, already normalized.
func (c *Client) History(ctx context.Context, peerID string) ([]event.Message, error) {
	raw, err := c.getRawList(ctx, "/api/messages/"+url.PathEscape(c.selfID)+"/"+url.PathEscape(peerID))
	if err != nil {
		return nil, err
	}
	return c.normalizeAll(raw), nil
}

// GroupHistory returns a group conversation's history.
func (c *Client) GroupHistory(ctx context.Context, groupID string) ([]event.Message, error) {
	raw, err := c.getRawList(ctx, "/api/messages/group/"+url.PathEscape(groupID))
	if err != nil {
		return nil, err
	}
	return c.normalizeAll(raw), nil
}

// PinnedMessages returns the pinned messages of a conversation.
func (c *Client) PinnedMessages(ctx context.Context, conversationID string) ([]event.Message, error) {
	raw, err := c.getRawList(ctx, "/api/messages/pinned/"+url.PathEscape(conversationID))
	if err != nil {
		return nil, err
	}
	return c.normalizeAll(raw), nil
}

// Search finds messages matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]event.Message, error) {
	raw, err := c.getRawList(ctx, "/api/messages/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	return c.normalizeAll(raw), nil
}

// rawContact tolerates both mongo-style and plain ids.
type rawContact struct {
	MongoID string `json:"_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	Phone   string `json:"phone"`
	Status  string `json:"status"`
}

func (r rawContact) id() string {
	if r.MongoID != "" {
		return r.MongoID
	}
	return r.ID
}

// Friends returns the friend list.
func (c *Client) Friends(ctx context.Context) ([]roster.Contact, error) {
	var raw []rawContact
	if err := c.getJSON(ctx, "/api/friends/"+url.PathEscape(c.selfID), &raw); err != nil {
		return nil, err
	}
	out := make([]roster.Contact, 0, len(raw))
	for _, rc := range raw {
		if rc.id() == "" {
			continue
		}
		out = append(out, roster.Contact{
			ID:     rc.id(),
			Name:   rc.Name,
			Avatar: rc.Avatar,
			Phone:  rc.Phone,
			Status: strings.ToLower(rc.Status),
		})
	}
	return out, nil
}

// Groups returns the groups the user belongs to.
func (c *Client) Groups(ctx context.Context) ([]roster.Group, error) {
	var raw []rawContact
	if err := c.getJSON(ctx, "/api/groups/member/"+url.PathEscape(c.selfID), &raw); err != nil {
		return nil, err
	}
	out := make([]roster.Group, 0, len(raw))
	for _, rg := range raw {
		if rg.id() == "" {
			continue
		}
		out = append(out, roster.Group{ID: rg.id(), Name: rg.Name, Avatar: rg.Avatar})
	}
	return out, nil
}

// PendingRequests returns incoming friend requests awaiting an answer.
func (c *Client) PendingRequests(ctx context.Context) ([]event.FriendRequest, error) {
	raw, err := c.getRawList(ctx, "/api/friends/requests/"+url.PathEscape(c.selfID))
	if err != nil {
		return nil, err
	}
	out := make([]event.FriendRequest, 0, len(raw))
	for _, record := range raw {
		fr, err := c.norm.FriendRequest(record)
		if err != nil {
			c.logger.Warn("skipping malformed friend request", zap.Error(err))
			continue
		}
		out = append(out, fr)
	}
	return out, nil
}

// AcceptFriendRequest accepts a pending friend request.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.post(ctx, "/api/friends/accept/"+url.PathEscape(requestID))
}

// CancelFriendRequest declines an incoming request or withdraws an
// outgoing one.
func (c *Client) CancelFriendRequest(ctx context.Context, requestID string) error {
	return c.post(ctx, "/api/friends/cancel/"+url.PathEscape(requestID))
}

// UploadResult describes a stored attachment.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	FileName string `json:"fileName"`
}

// Upload stores an attachment and returns its served location.
func (c *Client) Upload(ctx context.Context, fileName string, content io.Reader) (UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, err
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("upload status %d", resp.StatusCode)
	}
	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

func (c *Client) normalizeAll(raw []json.RawMessage) []event.Message {
	out := make([]event.Message, 0, len(raw))
	for _, record := range raw {
		msg, err := c.norm.Message(record)
		if err != nil {
			c.logger.Warn("skipping malformed history record", zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (c *Client) getRawList(ctx context.Context, path string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
