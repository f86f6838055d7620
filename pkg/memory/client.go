// Package memory persists conversation transcripts to a Zep-compatible
// graph memory service and retrieves related facts for prompt grounding.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultBaseURL = "https://api.getzep.com/api/v2"

	// Zep rejects message batches larger than 30.
	maxMessageBatch = 30

	defaultSearchLimit = 5
)

// Message is one transcript entry in the shape the memory API expects.
type Message struct {
	RoleType  string         `json:"role_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// Edge is one graph search hit. Fact carries the textual summary.
type Edge struct {
	Fact      string `json:"fact"`
	CreatedAt string `json:"created_at"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.apiKey) != ""
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return fmt.Errorf("zep error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// EnsureUser creates the user in the memory service if it does not exist.
// A concurrent create by another session is not an error.
func (c *Client) EnsureUser(ctx context.Context, userID string) error {
	if !c.Configured() {
		return fmt.Errorf("zep api key is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/users/"+userID, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Fall through and create it.
	default:
		return fmt.Errorf("zep error (status %d): get user %q", resp.StatusCode, userID)
	}

	resp, err = c.do(ctx, http.MethodPost, "/users", map[string]any{"user_id": userID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// AddSession registers a session under a user. The service treats this as an
// upsert, so repeating it for the same session id is harmless.
func (c *Client) AddSession(ctx context.Context, userID, sessionID string) error {
	if !c.Configured() {
		return fmt.Errorf("zep api key is not configured")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("user id and session id are required")
	}

	resp, err := c.do(ctx, http.MethodPost, "/sessions", map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// AddSessionMessages appends messages to a session transcript, splitting the
// upload into batches the service accepts.
func (c *Client) AddSessionMessages(ctx context.Context, sessionID string, messages []Message) error {
	if !c.Configured() {
		return fmt.Errorf("zep api key is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if len(messages) == 0 {
		return nil
	}

	for start := 0; start < len(messages); start += maxMessageBatch {
		end := start + maxMessageBatch
		if end > len(messages) {
			end = len(messages)
		}

		resp, err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/memory", map[string]any{
			"messages": messages[start:end],
		})
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := apiError(resp)
			resp.Body.Close()
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return nil
}

// SearchEdges runs a graph search over the user's memory and returns the
// matching edges. An unknown user yields no results rather than an error.
func (c *Client) SearchEdges(ctx context.Context, userID, query string, limit int) ([]Edge, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("zep api key is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	resp, err := c.do(ctx, http.MethodPost, "/graph/search", map[string]any{
		"user_id": userID,
		"query":   query,
		"scope":   "edges",
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var decoded struct {
		Edges []Edge `json:"edges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Edges, nil
}

// FactLines formats search hits for prompt injection, dropping empty facts.
func FactLines(edges []Edge) []string {
	lines := make([]string, 0, len(edges))
	for _, e := range edges {
		fact := strings.TrimSpace(e.Fact)
		if fact == "" {
			continue
		}
		lines = append(lines, "Relevant past information: "+fact)
	}
	return lines
}
