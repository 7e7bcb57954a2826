// Package rest is the HTTP fallback for reads normally served over the
// socket channel. It is used when the channel is down or a correlated
// call fails; writes other than read-marking never go through it.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/francois95140/MonVoisin3000-sub000/internal/auth"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

const requestTimeout = 15 * time.Second

// Client calls the server's REST API with the session's bearer token.
type Client struct {
	base   string
	http   *http.Client
	tokens auth.TokenStore
}

// New creates a REST client for the given base URL.
func New(base string, tokens auth.TokenStore) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: requestTimeout},
		tokens: tokens,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("rest: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("rest: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &wire.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return wire.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &wire.NetworkError{
			Op:  method + " " + path,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s: %w", path, err)
	}
	return nil
}

// ListFriends fetches the user's friend list.
func (c *Client) ListFriends(ctx context.Context) ([]wire.User, error) {
	var out []wire.User
	if err := c.do(ctx, http.MethodGet, "/api/friends", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser fetches one user profile. A 404 maps to wire.ErrNotFound,
// which callers render as the deleted-user placeholder.
func (c *Client) GetUser(ctx context.Context, id string) (*wire.User, error) {
	var out wire.User
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations fetches a page of the user's conversations.
func (c *Client) ListConversations(ctx context.Context, page, limit int) ([]wire.Conversation, error) {
	var out []wire.Conversation
	path := "/api/conversations?" + pageQuery(page, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCounts fetches every per-conversation unread counter.
func (c *Client) UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error) {
	var out []wire.UnreadCount
	if err := c.do(ctx, http.MethodGet, "/api/conversations/unread-counts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConversationMessages fetches a page of a conversation's history.
func (c *Client) ConversationMessages(ctx context.Context, conversationID string, page, limit int) ([]wire.Message, error) {
	var out []wire.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages?" + pageQuery(page, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkConversationRead marks a conversation read over HTTP. This is the
// one write the fallback carries, so read state converges even when the
// channel is down.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func pageQuery(page, limit int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	return v.Encode()
}
