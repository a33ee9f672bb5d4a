package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ChatInfo is the server's view of a chat session, returned by start,
// resume and meta calls.
type ChatInfo struct {
	ChatID       string `json:"chat_id"`
	WorkflowName string `json:"workflow_name"`
	EnterpriseID string `json:"enterprise_id"`
	UserID       string `json:"user_id"`
	CacheSeed    string `json:"cache_seed,omitempty"`
	Status       string `json:"status,omitempty"`
	LastSeq      uint64 `json:"last_seq,omitempty"`
	CreatedAtMs  int64  `json:"created_at_ms,omitempty"`
}

// TokenBalance reports the remaining token budget for an enterprise.
type TokenBalance struct {
	EnterpriseID string `json:"enterprise_id"`
	Balance      int64  `json:"balance"`
	UpdatedAtMs  int64  `json:"updated_at_ms,omitempty"`
}

// Workflow describes a workflow available for chat sessions.
type Workflow struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Agents      []string `json:"agents,omitempty"`
}

// RestClient talks to the platform's REST surface: session lifecycle, token
// accounting, UI tool responses and workflow discovery.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
}

type RestClientOption func(*RestClient)

// WithHTTPClient replaces the default 30s-timeout HTTP client.
func WithHTTPClient(c *http.Client) RestClientOption {
	return func(r *RestClient) {
		r.httpClient = c
	}
}

func NewRestClient(baseURL string, options ...RestClientOption) (*RestClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("base URL is empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	ret := &RestClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

// StartChat creates a new chat session for the given workflow.
func (c *RestClient) StartChat(ctx context.Context, workflowName, enterpriseID, userID string) (*ChatInfo, error) {
	if strings.TrimSpace(workflowName) == "" {
		return nil, errors.New("workflow name is required")
	}
	var info ChatInfo
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "chat", "start"), map[string]any{
		"workflow_name": workflowName,
		"enterprise_id": enterpriseID,
		"user_id":       userID,
	}, &info)
	if err != nil {
		return nil, errors.Wrap(err, "start chat")
	}
	if info.ChatID == "" {
		return nil, errors.New("start chat: server returned no chat_id")
	}
	return &info, nil
}

// ResumeChat asks the server to reopen an existing session. The returned
// LastSeq tells the stream client where replay will begin.
func (c *RestClient) ResumeChat(ctx context.Context, chatID string) (*ChatInfo, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("chat id is required")
	}
	var info ChatInfo
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "chat", "resume"), map[string]any{
		"chat_id": chatID,
	}, &info)
	if err != nil {
		return nil, errors.Wrap(err, "resume chat")
	}
	return &info, nil
}

// ChatMeta fetches session metadata without changing its state.
func (c *RestClient) ChatMeta(ctx context.Context, chatID string) (*ChatInfo, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("chat id is required")
	}
	var info ChatInfo
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("api", "chat", chatID, "meta"), nil, &info)
	if err != nil {
		return nil, errors.Wrap(err, "chat meta")
	}
	return &info, nil
}

// TokenBalance returns the remaining balance for an enterprise.
func (c *RestClient) TokenBalance(ctx context.Context, enterpriseID string) (*TokenBalance, error) {
	if strings.TrimSpace(enterpriseID) == "" {
		return nil, errors.New("enterprise id is required")
	}
	endpoint := c.endpoint("api", "tokens", "balance") + "?enterprise_id=" + url.QueryEscape(enterpriseID)
	var balance TokenBalance
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &balance); err != nil {
		return nil, errors.Wrap(err, "token balance")
	}
	return &balance, nil
}

// ConsumeTokens debits the enterprise balance and returns the new balance.
func (c *RestClient) ConsumeTokens(ctx context.Context, enterpriseID string, amount int64, reason string) (*TokenBalance, error) {
	if strings.TrimSpace(enterpriseID) == "" {
		return nil, errors.New("enterprise id is required")
	}
	if amount <= 0 {
		return nil, errors.Errorf("amount must be positive, got %d", amount)
	}
	var balance TokenBalance
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "tokens", "consume"), map[string]any{
		"enterprise_id": enterpriseID,
		"amount":        amount,
		"reason":        reason,
	}, &balance)
	if err != nil {
		return nil, errors.Wrap(err, "consume tokens")
	}
	return &balance, nil
}

// SubmitUIToolResponse posts a ui_tool reply over REST for servers that do
// not accept it on the socket.
func (c *RestClient) SubmitUIToolResponse(ctx context.Context, chatID, requestID, component string, payload json.RawMessage) error {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(requestID) == "" {
		return errors.New("chat id and request id are required")
	}
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "chat", chatID, "ui-tool-response"), map[string]any{
		"request_id": requestID,
		"component":  component,
		"payload":    payload,
	}, nil)
	return errors.Wrap(err, "submit ui tool response")
}

// ListWorkflows returns the workflows the enterprise can run.
func (c *RestClient) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out struct {
		Workflows []Workflow `json:"workflows"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("api", "workflows"), nil, &out); err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}
	return out.Workflows, nil
}

func (c *RestClient) endpoint(parts ...string) string {
	u, _ := url.Parse(c.baseURL)
	u.Path = path.Join(append([]string{strings.TrimRight(u.Path, "/")}, parts...)...)
	return u.String()
}

func (c *RestClient) doJSON(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.Errorf("%s %s: HTTP %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode response from %s", endpoint)
	}
	return nil
}
