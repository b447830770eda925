// Package marketplace is the outbound adapter to the marketplace API. Every
// call passes through the account's rate limiter and the retry controller,
// and every response is validated against the {success, messages, results}
// envelope.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/ratelimit"
	"github.com/erp/marketsync/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Rate-limit response headers
const (
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// Authentication headers
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// ActionList is the paginated listing action every resource supports
const ActionList = "list"

// Envelope is the wrapper every marketplace response must conform to.
// Success is a pointer so a missing flag is distinguishable from false.
type Envelope struct {
	Success  *bool           `json:"success"`
	Messages []string        `json:"messages"`
	Results  json.RawMessage `json:"results"`
}

// ListResults is the payload of a list action
type ListResults struct {
	Items       []json.RawMessage `json:"items"`
	CurrentPage int               `json:"currentPage"`
	TotalPages  int               `json:"totalPages"`
	TotalItems  int               `json:"totalItems"`
}

// listRequest is the body of a list call
type listRequest struct {
	CurrentPage  int            `json:"currentPage"`
	ItemsPerPage int            `json:"itemsPerPage"`
	Filters      map[string]any `json:"filters,omitempty"`
}

// sendRequest is the body of a write call
type sendRequest struct {
	Data any `json:"data"`
}

// Page is one page of raw items
type Page struct {
	Items      []json.RawMessage
	Page       int
	TotalPages int
	TotalItems int
	HasMore    bool
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock replaces the time source used for signing and rate-limit headers
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records call counts, latencies and limiter waits
func WithMetrics(m *telemetry.SyncMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is the marketplace transport shared by catalog sync and order handling
type Client struct {
	cfg        ClientConfig
	accounts   map[integration.AccountID]AccountConfig
	httpClient *http.Client
	limiters   *ratelimit.Registry
	retry      *RetryController
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
	now        func() time.Time
}

// NewClient creates a new marketplace client
func NewClient(cfg ClientConfig, limiters *ratelimit.Registry, retry *RetryController, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiters == nil {
		return nil, errors.New("marketplace: rate limiter registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewRetryController(DefaultRetryConfig(), logger)
	}

	c := &Client{
		cfg:        cfg,
		accounts:   make(map[integration.AccountID]AccountConfig, len(cfg.Accounts)),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiters:   limiters,
		retry:      retry,
		logger:     logger,
		now:        time.Now,
	}
	for _, a := range cfg.Accounts {
		c.accounts[integration.AccountID(a.ID)] = a
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Accounts returns the configured account ids
func (c *Client) Accounts() []integration.AccountID {
	return c.cfg.AccountIDs()
}

// HasAccount reports whether the account is configured
func (c *Client) HasAccount(id integration.AccountID) bool {
	_, ok := c.accounts[id]
	return ok
}

// ChunkSize returns the configured bulk chunk size
func (c *Client) ChunkSize() int {
	return c.cfg.ChunkSize
}

// Limiter returns the rate limiter governing the account
func (c *Client) Limiter(account integration.AccountID) *ratelimit.Limiter {
	return c.limiters.For(account)
}

func (c *Client) account(id integration.AccountID) (AccountConfig, error) {
	a, ok := c.accounts[id]
	if !ok {
		return AccountConfig{}, fmt.Errorf("%w: %s", integration.ErrUnknownAccount, id)
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Public operations
// ---------------------------------------------------------------------------

// FetchPage lists one page of a resource. A zero pageSize means the maximum
// of 100; larger values are rejected before any call is made.
func (c *Client) FetchPage(ctx context.Context, account integration.AccountID, resource string, page, pageSize int, filters map[string]any) (*Page, error) {
	if pageSize == 0 {
		pageSize = integration.MaxPageSize
	}
	if pageSize < 0 || pageSize > integration.MaxPageSize {
		return nil, fmt.Errorf("%w: %w (got %d)", integration.ErrValidation, integration.ErrInvalidPageSize, pageSize)
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1 (got %d)", integration.ErrValidation, page)
	}

	env, err := c.Send(ctx, account, resource, ActionList, listRequest{
		CurrentPage:  page,
		ItemsPerPage: pageSize,
		Filters:      filters,
	})
	if err != nil {
		return nil, err
	}

	var results ListResults
	if len(env) == 0 || string(env) == "null" {
		return nil, &integration.RemoteError{Kind: integration.ErrProtocolViolation, Resource: resource, Action: ActionList,
			Messages: []string{"list response has no results"}}
	}
	if err := json.Unmarshal(env, &results); err != nil {
		return nil, &integration.RemoteError{Kind: integration.ErrProtocolViolation, Resource: resource, Action: ActionList,
			Messages: []string{"malformed list results: " + err.Error()}}
	}

	p := &Page{
		Items:      results.Items,
		Page:       page,
		TotalPages: results.TotalPages,
		TotalItems: results.TotalItems,
	}
	if results.TotalPages > 0 {
		p.HasMore = page < results.TotalPages
	} else {
		p.HasMore = len(results.Items) == pageSize
	}
	return p, nil
}

// Send performs one call through the limiter and the retry controller and
// returns the envelope results. For list calls the payload is the body
// itself; for any other action it is wrapped as {"data": payload}.
func (c *Client) Send(ctx context.Context, account integration.AccountID, resource, action string, payload any) (json.RawMessage, error) {
	acct, err := c.account(account)
	if err != nil {
		return nil, err
	}

	body := payload
	if _, isList := payload.(listRequest); !isList {
		body = sendRequest{Data: payload}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode payload: %v", integration.ErrValidation, err)
	}

	class := integration.ResourceClassFor(resource)
	limiter := c.limiters.For(account)

	var results json.RawMessage
	err = c.retry.Do(ctx, limiter, class, func(ctx context.Context) error {
		waitStart := time.Now()
		if err := limiter.Wait(ctx, class); err != nil {
			return err
		}
		c.metrics.RateLimitWait(ctx, class.String(), time.Since(waitStart))

		callStart := time.Now()
		env, err := c.do(ctx, acct, limiter, class, resource, action, raw)
		errorClass := ""
		if err != nil {
			errorClass = Classify(err).String()
		}
		c.metrics.RemoteCall(ctx, resource, action, errorClass, time.Since(callStart))
		if err != nil {
			return err
		}
		results = env.Results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SendAndConfirm sends a write and, when it fails with a business or
// transient error, asks confirm whether the remote state nevertheless
// reflects the write. Some save operations report failure after applying
// the change, so the caller decides from a fresh read.
func (c *Client) SendAndConfirm(ctx context.Context, account integration.AccountID, resource, action string, payload any, confirm func(ctx context.Context) (bool, error)) (json.RawMessage, error) {
	results, err := c.Send(ctx, account, resource, action, payload)
	if err == nil || confirm == nil {
		return results, err
	}
	if !errors.Is(err, integration.ErrValidation) && !errors.Is(err, integration.ErrTransientNetwork) {
		return nil, err
	}

	applied, confirmErr := confirm(ctx)
	if confirmErr != nil {
		c.logger.Warn("Could not confirm failed write",
			zap.String("account_id", account.String()),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.Error(confirmErr),
		)
		return nil, err
	}
	if applied {
		c.logger.Info("Write reported as failed was applied remotely",
			zap.String("account_id", account.String()),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil, nil
	}
	return nil, err
}

// BulkEntity is one entity of a bulk write. Elements is the number of payload
// elements it contributes towards the per-request cap; values below one count as one.
type BulkEntity struct {
	Payload  any
	Elements int
}

// ChunkResult is the outcome of one bulk request
type ChunkResult struct {
	Offset  int
	Count   int
	Results json.RawMessage
	Err     error
}

// PlanChunks splits entities into requests of at most chunkSize entities and
// at most maxElements elements. An entity larger than maxElements on its own
// is rejected.
func PlanChunks(entities []BulkEntity, chunkSize, maxElements int) ([][]BulkEntity, error) {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}
	if maxElements <= 0 || maxElements > MaxElementsPerRequest {
		maxElements = MaxElementsPerRequest
	}

	var chunks [][]BulkEntity
	var current []BulkEntity
	elements := 0
	for i, e := range entities {
		n := max(e.Elements, 1)
		if n > maxElements {
			return nil, fmt.Errorf("%w: entity %d has %d elements, limit is %d", integration.ErrValidation, i, n, maxElements)
		}
		if len(current) == chunkSize || elements+n > maxElements {
			chunks = append(chunks, current)
			current, elements = nil, 0
		}
		current = append(current, e)
		elements += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// SendBulk writes entities in chunks. Item-level failures are reported per
// chunk and do not stop later chunks; an account-level failure or
// cancellation stops the batch and is returned.
func (c *Client) SendBulk(ctx context.Context, account integration.AccountID, resource, action string, entities []BulkEntity) ([]ChunkResult, error) {
	chunks, err := PlanChunks(entities, c.cfg.ChunkSize, c.cfg.MaxElementsPerRequest)
	if err != nil {
		return nil, err
	}

	limiter := c.limiters.For(account)
	if j := limiter.BatchJitter(); j > 0 && len(chunks) > 1 {
		if err := sleepContext(ctx, j); err != nil {
			return nil, err
		}
	}

	results := make([]ChunkResult, 0, len(chunks))
	offset := 0
	for _, chunk := range chunks {
		payloads := make([]any, len(chunk))
		for i, e := range chunk {
			payloads[i] = e.Payload
		}
		res, err := c.Send(ctx, account, resource, action, payloads)
		results = append(results, ChunkResult{Offset: offset, Count: len(chunk), Results: res, Err: err})
		offset += len(chunk)
		if err != nil && (integration.IsAccountFatal(err) || ctx.Err() != nil) {
			return results, err
		}
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Single attempt
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, acct AccountConfig, limiter *ratelimit.Limiter, class integration.ResourceClass, resource, action string, body []byte) (*Envelope, error) {
	path := "/" + resource + "/" + action
	ctx, span := telemetry.StartSpan(ctx, "marketplace."+resource+"."+action,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("marketplace.account_id", acct.ID),
		telemetry.WithAttribute("marketplace.resource_class", class.String()),
	)
	defer span.End()

	env, err := c.roundTrip(ctx, acct, limiter, class, resource, action, path, body)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)
	return env, nil
}

func (c *Client) roundTrip(ctx context.Context, acct AccountConfig, limiter *ratelimit.Limiter, class integration.ResourceClass, resource, action, path string, body []byte) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("marketplace: failed to create request: %w", err)
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set(HeaderAPIKey, acct.APIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, acct.Sign(timestamp, http.MethodPost, path, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &integration.RemoteError{Kind: integration.ErrTransientNetwork, Resource: resource, Action: action,
			Messages: []string{err.Error()}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &integration.RemoteError{Kind: integration.ErrTransientNetwork, Resource: resource, Action: action,
			StatusCode: resp.StatusCode, Messages: []string{"failed to read response: " + err.Error()}}
	}

	info := c.parseRateLimit(resp.Header)
	if info != nil && info.Remaining == 0 && info.ResetAt.After(c.now()) {
		limiter.Block(class, info.ResetAt)
	}

	if resp.StatusCode >= 400 {
		remoteErr := &integration.RemoteError{
			Resource:   resource,
			Action:     action,
			StatusCode: resp.StatusCode,
			Messages:   envelopeMessages(raw),
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			remoteErr.Kind = integration.ErrRateLimitExceeded
			if info == nil {
				info = &integration.RateLimitInfo{Remaining: 0}
			}
			info.Remaining = 0
			remoteErr.RateLimit = info
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			remoteErr.Kind = integration.ErrAuthentication
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
			remoteErr.Kind = integration.ErrTransientNetwork
		default:
			remoteErr.Kind = integration.ErrValidation
		}
		c.logger.Debug("Marketplace call failed",
			zap.String("account_id", acct.ID),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.Int("status", resp.StatusCode),
		)
		return nil, remoteErr
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &integration.RemoteError{Kind: integration.ErrProtocolViolation, Resource: resource, Action: action,
			StatusCode: resp.StatusCode, Messages: []string{"response is not a JSON envelope"}}
	}
	if env.Success == nil {
		return nil, &integration.RemoteError{Kind: integration.ErrProtocolViolation, Resource: resource, Action: action,
			StatusCode: resp.StatusCode, Messages: []string{"envelope has no success flag"}}
	}
	if !*env.Success {
		return nil, &integration.RemoteError{Kind: integration.ErrValidation, Resource: resource, Action: action,
			StatusCode: resp.StatusCode, Messages: env.Messages}
	}
	return &env, nil
}

// parseRateLimit reads the budget headers, nil when none is present
func (c *Client) parseRateLimit(h http.Header) *integration.RateLimitInfo {
	remaining, reset, retryAfter := h.Get(HeaderRateRemaining), h.Get(HeaderRateReset), h.Get(HeaderRetryAfter)
	if remaining == "" && reset == "" && retryAfter == "" {
		return nil
	}
	info := &integration.RateLimitInfo{Remaining: -1}
	if v, err := strconv.Atoi(strings.TrimSpace(remaining)); err == nil {
		info.Remaining = v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(reset), 10, 64); err == nil {
		info.ResetAt = time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && v > 0 {
		info.RetryAfter = time.Duration(v) * time.Second
	} else if t, err := http.ParseTime(retryAfter); err == nil {
		if d := t.Sub(c.now()); d > 0 {
			info.RetryAfter = d
		}
	}
	return info
}

// envelopeMessages extracts messages from an error body when it is an envelope
func envelopeMessages(raw []byte) []string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Messages) > 0 {
		return env.Messages
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 512 {
		return []string{s}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
