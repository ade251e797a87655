package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 4 << 20
)

type Option func(*Client)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
}

func New(baseURL, token string, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs one API call. For GET, body is encoded as the query
// string; otherwise it is sent as a JSON body. Callers may override
// headers via the headers map.
func (c *Client) Request(ctx context.Context, method, path string, body any, headers map[string]string) (json.RawMessage, error) {
	if method == http.MethodGet {
		query, err := toQueryValues(body)
		if err != nil {
			return nil, err
		}
		return c.do(ctx, method, path, query, nil, headers)
	}
	return c.do(ctx, method, path, nil, body, headers)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) (json.RawMessage, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			Status: resp.StatusCode,
			Detail: errorDetail(respBody),
			Body:   respBody,
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return json.RawMessage("null"), nil
	}
	return respBody, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/api/v1/agents", nil, nil)
	if err != nil {
		return nil, err
	}
	var agents []Agent
	if err := decodeList(raw, []string{"data", "agents"}, &agents); err != nil {
		return nil, fmt.Errorf("decode agents response: %w", err)
	}
	return agents, nil
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Agent{}, &ValidationError{Field: "agent id", Value: agentID, Reason: "must not be empty"}
	}
	raw, err := c.Request(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID), nil, nil)
	if err != nil {
		return Agent{}, err
	}
	var agent Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		var wrapper struct {
			Data Agent `json:"data"`
		}
		if err2 := json.Unmarshal(raw, &wrapper); err2 != nil {
			return Agent{}, fmt.Errorf("decode agent response: %w", err)
		}
		return wrapper.Data, nil
	}
	return agent, nil
}

func (c *Client) SendAgentMessage(ctx context.Context, agentID string, req MessageRequest) (json.RawMessage, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, &ValidationError{Field: "agent id", Value: agentID, Reason: "must not be empty"}
	}
	return c.Request(ctx, http.MethodPost, "/webhooks/agents/"+url.PathEscape(agentID)+"/message", req, nil)
}

func (c *Client) SendTyping(ctx context.Context, agentID, conversationID string, typing bool) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return &ValidationError{Field: "agent id", Value: agentID, Reason: "must not be empty"}
	}
	body := map[string]any{
		"data":            map[string]any{"typing": typing},
		"conversation_id": strings.TrimSpace(conversationID),
		"callback_type":   "typing",
	}
	_, err := c.Request(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/callback", body, nil)
	return err
}

func (c *Client) PollQueue(ctx context.Context, tenantID string, limit int, queueName string) ([]QueueMessage, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, &ValidationError{Field: "tenant id", Value: tenantID, Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if name := strings.TrimSpace(queueName); name != "" {
		query.Set("queue_name", name)
	}

	raw, err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(tenantID)+"/poll", query, nil, nil)
	if err != nil {
		return nil, err
	}
	var messages []QueueMessage
	if err := decodeList(raw, []string{"data", "messages"}, &messages); err != nil {
		return nil, fmt.Errorf("decode queue poll response: %w", err)
	}
	return messages, nil
}

func (c *Client) AcknowledgeMessages(ctx context.Context, tenantID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return &ValidationError{Field: "tenant id", Value: tenantID, Reason: "must not be empty"}
	}
	body := map[string]any{"message_ids": messageIDs}
	_, err := c.Request(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(tenantID)+"/acknowledge", body, nil)
	return err
}

func (c *Client) FailMessages(ctx context.Context, tenantID string, messageIDs []int64, errorMessage string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return &ValidationError{Field: "tenant id", Value: tenantID, Reason: "must not be empty"}
	}
	body := map[string]any{
		"message_ids":   messageIDs,
		"error_message": errorMessage,
	}
	_, err := c.Request(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(tenantID)+"/fail", body, nil)
	return err
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/api/v1/webhooks", nil, nil)
	if err != nil {
		return nil, err
	}
	var webhooks []Webhook
	if err := decodeList(raw, []string{"data", "webhooks"}, &webhooks); err != nil {
		return nil, fmt.Errorf("decode webhooks response: %w", err)
	}
	return webhooks, nil
}

func (c *Client) LinkWebhook(ctx context.Context, webhookID string, req LinkRequest) error {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return &ValidationError{Field: "webhook id", Value: webhookID, Reason: "must not be empty"}
	}
	_, err := c.Request(ctx, http.MethodPost, "/api/v1/webhooks/"+url.PathEscape(webhookID)+"/link", req, nil)
	return err
}

func (c *Client) UnlinkWebhook(ctx context.Context, webhookID string) error {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return &ValidationError{Field: "webhook id", Value: webhookID, Reason: "must not be empty"}
	}
	_, err := c.Request(ctx, http.MethodDelete, "/api/v1/webhooks/"+url.PathEscape(webhookID)+"/link", nil, nil)
	return err
}

// SendCallbackReply posts a reply to a response webhook using the
// form-encoded shape the callback endpoints expect.
func (c *Client) SendCallbackReply(ctx context.Context, callbackURL string, reply CallbackReply) error {
	callbackURL = strings.TrimSpace(callbackURL)
	if callbackURL == "" {
		return &ValidationError{Field: "callback url", Value: callbackURL, Reason: "must not be empty"}
	}

	timestamp := reply.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	form := url.Values{}
	form.Set("conversation_id", reply.ConversationID)
	form.Set("content", reply.Content)
	form.Set("message_id", reply.MessageID)
	form.Set("timestamp", timestamp.UTC().Format(time.RFC3339))
	if reply.UserID != "" {
		form.Set("user_id", reply.UserID)
	}
	if reply.OrganizationID != "" {
		form.Set("organization_id", reply.OrganizationID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return &TransportError{Status: resp.StatusCode}
	}
	return &TransportError{
		Status: resp.StatusCode,
		Detail: errorDetail(respBody),
		Body:   respBody,
	}
}

func toQueryValues(body any) (url.Values, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case url.Values:
		return v, nil
	case map[string]string:
		query := url.Values{}
		for key, value := range v {
			query.Set(key, value)
		}
		return query, nil
	case map[string]any:
		query := url.Values{}
		for key, value := range v {
			query.Set(key, fmt.Sprintf("%v", value))
		}
		return query, nil
	default:
		return nil, fmt.Errorf("unsupported GET body type %T", body)
	}
}
