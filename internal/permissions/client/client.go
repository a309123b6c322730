// Package permissionsclient talks to the permission matrix API and backs an
// EditSession with it.
package permissionsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/shared"
)

const defaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the API refuses the credentials.
var ErrUnauthorized = errors.New("permissionsclient: unauthorized")

// Config describes how to reach the API.
type Config struct {
	BaseURL    string
	Email      string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a session-authenticated API client. It implements
// permissions.Gateway.
type Client struct {
	base     *url.URL
	http     *http.Client
	email    string
	password string
	logger   *slog.Logger

	mu        sync.Mutex
	csrfToken string
	principal shared.Principal
}

// New builds a Client. A cookie jar is attached when the supplied HTTP client
// has none.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("permissionsclient: invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:     base,
		http:     hc,
		email:    cfg.Email,
		password: cfg.Password,
		logger:   logger,
	}, nil
}

// Login opens an API session and keeps its CSRF token.
func (c *Client) Login(ctx context.Context) (shared.Principal, error) {
	payload := map[string]string{"email": c.email, "password": c.password}
	resp, err := c.send(ctx, http.MethodPost, "/auth/login", nil, payload, nil, "")
	if err != nil {
		return shared.Principal{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusUnprocessableEntity {
		problem := httpx.ReadProblem(resp)
		return shared.Principal{}, fmt.Errorf("%w: %s", ErrUnauthorized, problem.Detail)
	}
	if resp.StatusCode != http.StatusOK {
		return shared.Principal{}, problemError(resp)
	}
	var body struct {
		User      shared.Principal `json:"user"`
		CSRFToken string           `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return shared.Principal{}, fmt.Errorf("permissionsclient: decode login: %w", err)
	}
	c.mu.Lock()
	c.csrfToken = body.CSRFToken
	c.principal = body.User
	c.mu.Unlock()
	c.logger.Debug("api session opened", slog.Int64("user_id", body.User.UserID), slog.String("level", body.User.Level))
	return body.User, nil
}

// Principal returns the user of the current API session.
func (c *Client) Principal() shared.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// FetchSnapshot loads the authoritative catalog and grants.
func (c *Client) FetchSnapshot(ctx context.Context) (permissions.Snapshot, error) {
	var snap permissions.Snapshot
	resp, err := c.do(ctx, http.MethodGet, "/api/permissions", nil, nil, nil)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, problemError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("permissionsclient: decode snapshot: %w", err)
	}
	return snap, nil
}

type changePayload struct {
	Level    string `json:"level"`
	Resource string `json:"resource_slug"`
	Action   string `json:"action_slug"`
	Allowed  bool   `json:"allowed"`
}

// WriteBatch sends every change in one request. Any non-2xx answer becomes a
// *permissions.CommitRejectedError carrying the server's reason.
func (c *Client) WriteBatch(ctx context.Context, changes []permissions.Change) (int, error) {
	body := struct {
		Changes []changePayload `json:"changes"`
	}{Changes: make([]changePayload, 0, len(changes))}
	for _, ch := range changes {
		body.Changes = append(body.Changes, changePayload{
			Level:    ch.Key.Level.String(),
			Resource: ch.Key.Resource,
			Action:   ch.Key.Action,
			Allowed:  ch.Allowed,
		})
	}
	// One key per batch; the re-login retry in do reuses it.
	headers := http.Header{}
	headers.Set(shared.IdempotencyHeader, uuid.NewString())
	resp, err := c.do(ctx, http.MethodPut, "/api/permissions", nil, body, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		problem := httpx.ReadProblem(resp)
		return 0, &permissions.CommitRejectedError{Status: problem.Status, Reason: reason(problem)}
	}
	var result struct {
		Applied int `json:"applied"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("permissionsclient: decode apply: %w", err)
	}
	return result.Applied, nil
}

// RefreshCache asks the server to drop cached permission snapshots.
func (c *Client) RefreshCache(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/permissions/cache/refresh", nil, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return problemError(resp)
	}
	return nil
}

// AuditQuery selects one page of the audit trail.
type AuditQuery struct {
	Filters  audit.Filters
	Page     int
	PageSize int
}

// Audit lists audit entries newest first.
func (c *Client) Audit(ctx context.Context, q AuditQuery) (audit.Result, error) {
	params := url.Values{}
	if q.Filters.Level != "" {
		params.Set("level", q.Filters.Level)
	}
	if q.Filters.Resource != "" {
		params.Set("resource_slug", q.Filters.Resource)
	}
	if q.Filters.Action != "" {
		params.Set("action_slug", q.Filters.Action)
	}
	if q.Filters.ActorID > 0 {
		params.Set("actor_id", strconv.FormatInt(q.Filters.ActorID, 10))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("page_size", strconv.Itoa(q.PageSize))
	}
	var result audit.Result
	resp, err := c.do(ctx, http.MethodGet, "/api/permissions/audit", params, nil, nil)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return result, problemError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("permissionsclient: decode audit: %w", err)
	}
	return result, nil
}

// do sends an authenticated request, logging in first when needed and once
// more if the server reports the session expired.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers http.Header) (*http.Response, error) {
	if c.token() == "" {
		if _, err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := c.send(ctx, method, path, query, body, headers, c.token())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)
	if _, err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, query, body, headers, c.token())
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, headers http.Header, token string) (*http.Response, error) {
	target := c.base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("permissionsclient: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(shared.CSRFHeader, token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("permissionsclient: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

// StatusError is a non-2xx answer outside the commit path.
type StatusError struct {
	Problem httpx.ProblemDetail
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("permissionsclient: %d %s", e.Problem.Status, reason(e.Problem))
}

func problemError(resp *http.Response) error {
	return &StatusError{Problem: httpx.ReadProblem(resp)}
}

func reason(p httpx.ProblemDetail) string {
	msg := p.Detail
	if msg == "" {
		msg = p.Title
	}
	if len(p.Errors) == 0 {
		return msg
	}
	keys := make([]string, 0, len(p.Errors))
	for k := range p.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+p.Errors[k])
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

var _ permissions.Gateway = (*Client)(nil)
