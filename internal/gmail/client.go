package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	baseURL        = "https://gmail.googleapis.com/gmail/v1"
	maxListResults = 500  // provider cap on maxResults
	batchModifyMax = 1000 // provider cap on batchModify ids
	maxBackoffSec  = 300
)

// Client implements the API interface against the Gmail REST endpoints.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	userID      string // "me" for the authenticated user
	concurrency int    // max parallel requests inside a metadata batch
	maxRetries  int    // transport-level retry ceiling per request
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithConcurrency sets the max concurrent requests for metadata batches.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

// WithMaxRetries sets the transport-level retry ceiling.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a Gmail API client from an OAuth2 token source.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		userID:      "me",
		concurrency: 10,
		maxRetries:  8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}
	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return nil
}

// request makes one rate-limited HTTP request with retry and backoff.
// bodyBytes can be nil for requests without a body.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := baseURL + path
	lastStatus := 0

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue // network errors are retryable
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}
		lastStatus = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			// Expected under sustained batch mutation load; the
			// limiter backs off and the loop retries.
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = &RateLimitedError{StatusCode: resp.StatusCode}
			continue

		case http.StatusForbidden:
			// Gmail reports quota exhaustion as 403 rateLimitExceeded.
			if isRateLimitBody(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = &RateLimitedError{StatusCode: resp.StatusCode}
				continue
			}
			// Real permission error: auth is unusable, don't retry.
			return nil, &AuthError{StatusCode: resp.StatusCode, Detail: string(respBody)}

		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue

		case http.StatusUnauthorized:
			// oauth2.Client auto-refreshes; if we still get 401 the
			// stored grant is gone.
			return nil, &AuthError{StatusCode: resp.StatusCode, Detail: "token invalid or revoked"}

		case http.StatusNotFound:
			return nil, &NotFoundError{Path: path}

		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
		}
	}

	if _, ok := lastErr.(*RateLimitedError); ok {
		return nil, &RateLimitedError{StatusCode: lastStatus}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryBackoff returns the exponential full-jitter backoff for an attempt:
// a random duration in [0, min(2^attempt, maxBackoffSec)) seconds.
func retryBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoffSec {
		base = maxBackoffSec
	}
	return time.Duration(rand.Float64() * base * float64(time.Second))
}

// isRateLimitBody checks whether a 403 body is actually a quota error.
func isRateLimitBody(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded")) ||
		bytes.Contains(body, []byte("Quota exceeded"))
}

// Gmail API JSON response shapes (unexported, unmarshaling only).

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []messageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int64        `json:"resultSizeEstimate"`
}

type headerJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type metadataResponse struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate string   `json:"internalDate"`
	SizeEstimate int64    `json:"sizeEstimate"`
	Payload      struct {
		Headers []headerJSON `json:"headers"`
	} `json:"payload"`
}

type labelJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type listLabelsResponse struct {
	Labels []labelJSON `json:"labels"`
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
	}, nil
}

// ListMessages returns one page of message ids matching the query.
func (c *Client) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error) {
	if maxResults <= 0 || maxResults > maxListResults {
		maxResults = maxListResults
	}

	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(maxResults))
	if query != "" {
		params.Set("q", query)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message list: %w", err)
	}

	ids := make([]string, len(resp.Messages))
	for i, m := range resp.Messages {
		ids[i] = m.ID
	}
	return &MessageListPage{
		IDs:                ids,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessageMetadata fetches a single message in metadata format.
func (c *Client) GetMessageMetadata(ctx context.Context, id string) (*MessageMeta, error) {
	params := url.Values{}
	params.Set("format", "metadata")
	for _, h := range MetadataHeaders {
		params.Add("metadataHeaders", h)
	}

	path := fmt.Sprintf("/users/%s/messages/%s?%s", c.userID, id, params.Encode())
	data, err := c.request(ctx, OpMessagesGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp metadataResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message metadata: %w", err)
	}
	return metaFromResponse(&resp), nil
}

func metaFromResponse(resp *metadataResponse) *MessageMeta {
	meta := &MessageMeta{
		ID:           resp.ID,
		ThreadID:     resp.ThreadID,
		LabelIDs:     resp.LabelIDs,
		SizeEstimate: resp.SizeEstimate,
	}
	if ms, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil && ms > 0 {
		meta.InternalDate = time.UnixMilli(ms).UTC()
	}
	for _, h := range resp.Payload.Headers {
		switch http.CanonicalHeaderKey(h.Name) {
		case "From":
			meta.From = h.Value
		case "Subject":
			meta.Subject = h.Value
		case "List-Unsubscribe":
			meta.ListUnsubscribe = h.Value
		case "List-Unsubscribe-Post":
			meta.ListUnsubscribePost = h.Value
		}
	}
	return meta
}

// GetMetadataBatch fetches metadata for multiple messages in parallel.
// A failed individual fetch leaves a nil entry; an auth failure aborts the
// whole batch since every remaining request would fail the same way.
func (c *Client) GetMetadataBatch(ctx context.Context, ids []string) ([]*MessageMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]*MessageMeta, len(ids))
	sem := make(chan struct{}, c.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			meta, err := c.GetMessageMetadata(ctx, id)
			if err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					return err
				}
				c.logger.Warn("failed to fetch message metadata", "id", id, "error", err)
				return nil
			}
			results[i] = meta
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchModify adds/removes labels on up to 1000 messages in one call.
func (c *Client) BatchModify(ctx context.Context, ids []string, mods ModifyRequest) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > batchModifyMax {
		return fmt.Errorf("batch modify limited to %d messages, got %d", batchModifyMax, len(ids))
	}

	body := struct {
		IDs            []string `json:"ids"`
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{IDs: ids, AddLabelIDs: mods.AddLabelIDs, RemoveLabelIDs: mods.RemoveLabelIDs}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchModify", c.userID)
	_, err = c.request(ctx, OpBatchModify, http.MethodPost, path, bodyBytes)
	return err
}

// ListLabels returns all labels for the account.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listLabelsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	labels := make([]*Label, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = &Label{ID: l.ID, Name: l.Name, Type: l.Type}
	}
	return labels, nil
}

// CreateLabel creates a user label with default visibility.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	body := struct {
		Name                  string `json:"name"`
		LabelListVisibility   string `json:"labelListVisibility"`
		MessageListVisibility string `json:"messageListVisibility"`
	}{Name: name, LabelListVisibility: "labelShow", MessageListVisibility: "show"}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsCreate, http.MethodPost, path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return &Label{ID: resp.ID, Name: resp.Name, Type: resp.Type}, nil
}

// DeleteLabel removes a user label. System labels cannot be deleted.
func (c *Client) DeleteLabel(ctx context.Context, id string) error {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, url.PathEscape(id))
	_, err := c.request(ctx, OpLabelsDelete, http.MethodDelete, path, nil)
	return err
}

// Ensure Client implements the API interface.
var _ API = (*Client)(nil)
