package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client provides access to the chat server's historical API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8000/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetTimeout changes the per-request timeout of the underlying HTTP client.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Message history endpoints

// GetMessages retrieves one page of a conversation's messages, newest first.
// Messages are returned undecoded so callers own the message model.
func (c *Client) GetMessages(ctx context.Context, chatID int64, limit, offset int) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/chats/%d/messages?limit=%d&offset=%d", chatID, limit, offset)

	var resp []json.RawMessage
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MarkSeen marks every message in a conversation as seen by the caller.
func (c *Client) MarkSeen(ctx context.Context, chatID int64) error {
	return c.post(ctx, fmt.Sprintf("/chats/%d/messages/mark-seen", chatID), nil, nil)
}

// Message mutation endpoints. Results are broadcast on the live channel.

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	return c.put(ctx, fmt.Sprintf("/messages/%d", messageID), EditMessageRequest{Content: content}, nil)
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.delete(ctx, fmt.Sprintf("/messages/%d", messageID))
}

// AddReaction toggles the caller's emoji reaction on a message.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	return c.post(ctx, fmt.Sprintf("/messages/%d/reactions", messageID), ReactionRequest{Emoji: emoji}, nil)
}

// Upload stores a file as a multipart "file" field.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadedFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp UploadedFile
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Helper methods

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.send(ctx, http.MethodGet, path, nil, dest)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.message() != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.message()}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	// Unmarshal success response
	if dest != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
