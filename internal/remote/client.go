// Package remote is the typed transport to the remote project store.
//
// The client is stateless and performs no retries: every call either
// succeeds or returns a classified *Error, and retry policy lives entirely
// in the sync engine. The wire surface follows the PostgREST conventions of
// the hosted backend: /rest/v1/{table} CRUD with id=eq.{id} filters and
// /rest/v1/rpc/{fn} for the lock procedures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/syncboard/syncboard/internal/model"
)

// Interface is the remote operation set consumed by the sync engine and
// the lock manager. *Client implements it; tests substitute fakes.
type Interface interface {
	// Ping probes connectivity with a minimal read.
	Ping(ctx context.Context) error

	List(ctx context.Context, entityType model.EntityType) ([]json.RawMessage, error)
	Create(ctx context.Context, entityType model.EntityType, payload json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, entityType model.EntityType, id string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, entityType model.EntityType, id string) error

	ListActiveLocks(ctx context.Context) ([]model.ProjectLock, error)
	CreateLock(ctx context.Context, lock *model.ProjectLock) (*model.ProjectLock, error)
	RenewLock(ctx context.Context, lockID string, expiresAt time.Time, reason string) error
	ReleaseLock(ctx context.Context, projectID, userID string) error
	AdminUnlock(ctx context.Context, projectID, adminUserID string) (bool, error)
	ExtendLock(ctx context.Context, projectID, userID string, additionalMinutes int) (bool, error)
	CleanupExpiredLocks(ctx context.Context) error
}

const (
	locksTable     = "project_locks"
	defaultTimeout = 15 * time.Second
)

// Client talks to the remote store over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a remote client. The API key travels with every call as both
// the apikey header and a bearer token; an empty key is allowed and simply
// yields auth-classified rejections from the server.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Ping implements Interface. It issues the cheapest authenticated read the
// backend supports; any classified failure means "not reachable".
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/rest/v1/users?select=id&limit=1", nil, "ping", "users", "")
	return err
}

// List implements Interface.
func (c *Client) List(ctx context.Context, entityType model.EntityType) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/rest/v1/"+string(entityType)+"?select=*", nil, "list", string(entityType), "")
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, c.wrap("list", string(entityType), "", fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

// Create implements Interface. The created row, including server-assigned
// columns, is returned.
func (c *Client) Create(ctx context.Context, entityType model.EntityType, payload json.RawMessage) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodPost, "/rest/v1/"+string(entityType), payload, "create", string(entityType), "")
	if err != nil {
		return nil, err
	}
	return firstRow(body), nil
}

// Update implements Interface. Partial payloads are fine; only the supplied
// columns change.
func (c *Client) Update(ctx context.Context, entityType model.EntityType, id string, payload json.RawMessage) (json.RawMessage, error) {
	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s", entityType, url.QueryEscape(id))
	body, err := c.do(ctx, http.MethodPatch, path, payload, "update", string(entityType), id)
	if err != nil {
		return nil, err
	}
	return firstRow(body), nil
}

// Delete implements Interface. Deleting a missing row is not an error.
func (c *Client) Delete(ctx context.Context, entityType model.EntityType, id string) error {
	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s", entityType, url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, path, nil, "delete", string(entityType), id)
	return err
}

// ListActiveLocks implements Interface. Only active, unexpired leases are
// returned, newest first.
func (c *Client) ListActiveLocks(ctx context.Context) ([]model.ProjectLock, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	path := fmt.Sprintf("/rest/v1/%s?is_active=eq.true&expires_at=gt.%s&order=locked_at.desc",
		locksTable, url.QueryEscape(now))
	body, err := c.do(ctx, http.MethodGet, path, nil, "list", locksTable, "")
	if err != nil {
		return nil, err
	}
	var locks []model.ProjectLock
	if err := json.Unmarshal(body, &locks); err != nil {
		return nil, c.wrap("list", locksTable, "", fmt.Errorf("decode response: %w", err))
	}
	return locks, nil
}

// CreateLock implements Interface. A duplicate active lock is rejected by
// the remote uniqueness constraint and surfaces as a conflict error; that
// rejection, not the local cache, is the authority on races.
func (c *Client) CreateLock(ctx context.Context, lock *model.ProjectLock) (*model.ProjectLock, error) {
	payload, err := json.Marshal(lock)
	if err != nil {
		return nil, c.wrap("create", locksTable, lock.ProjectID, err)
	}
	body, err := c.do(ctx, http.MethodPost, "/rest/v1/"+locksTable, payload, "create", locksTable, lock.ProjectID)
	if err != nil {
		return nil, err
	}
	var created model.ProjectLock
	if row := firstRow(body); row != nil {
		if err := json.Unmarshal(row, &created); err != nil {
			return nil, c.wrap("create", locksTable, lock.ProjectID, fmt.Errorf("decode response: %w", err))
		}
		return &created, nil
	}
	return lock, nil
}

// RenewLock implements Interface.
func (c *Client) RenewLock(ctx context.Context, lockID string, expiresAt time.Time, reason string) error {
	patch, _ := json.Marshal(map[string]any{
		"expires_at":  expiresAt.UTC().Format(time.RFC3339),
		"lock_reason": reason,
	})
	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s", locksTable, url.QueryEscape(lockID))
	_, err := c.do(ctx, http.MethodPatch, path, patch, "update", locksTable, lockID)
	return err
}

// ReleaseLock implements Interface. Scoped to the caller's own active lock;
// releasing when no such lock exists is a no-op.
func (c *Client) ReleaseLock(ctx context.Context, projectID, userID string) error {
	patch, _ := json.Marshal(map[string]any{"is_active": false})
	path := fmt.Sprintf("/rest/v1/%s?project_id=eq.%s&locked_by_user_id=eq.%s&is_active=eq.true",
		locksTable, url.QueryEscape(projectID), url.QueryEscape(userID))
	_, err := c.do(ctx, http.MethodPatch, path, patch, "update", locksTable, projectID)
	return err
}

// AdminUnlock implements Interface. Authorization is enforced server-side;
// a false result means the caller lacked privileges or no lock existed.
func (c *Client) AdminUnlock(ctx context.Context, projectID, adminUserID string) (bool, error) {
	return c.rpcBool(ctx, "admin_unlock_project", map[string]any{
		"p_project_id":    projectID,
		"p_admin_user_id": adminUserID,
	}, projectID)
}

// ExtendLock implements Interface. Returns false when the caller holds no
// active lock on the project.
func (c *Client) ExtendLock(ctx context.Context, projectID, userID string, additionalMinutes int) (bool, error) {
	return c.rpcBool(ctx, "extend_project_lock", map[string]any{
		"p_project_id":         projectID,
		"p_user_id":            userID,
		"p_additional_minutes": additionalMinutes,
	}, projectID)
}

// CleanupExpiredLocks implements Interface.
func (c *Client) CleanupExpiredLocks(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/cleanup_expired_locks", []byte("{}"), "rpc", locksTable, "")
	return err
}

func (c *Client) rpcBool(ctx context.Context, fn string, args map[string]any, entityID string) (bool, error) {
	payload, _ := json.Marshal(args)
	body, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, payload, "rpc", locksTable, entityID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(bytes.TrimSpace(body), &ok); err != nil {
		return false, c.wrap("rpc", locksTable, entityID, fmt.Errorf("decode %s response: %w", fn, err))
	}
	return ok, nil
}

// do issues one HTTP request and classifies any failure. It never retries.
func (c *Client) do(ctx context.Context, method, path string, body []byte, op, entityType, entityID string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, c.wrap(op, entityType, entityID, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{
			Kind:       classifyTransport(err),
			Operation:  op,
			EntityType: entityType,
			EntityID:   entityID,
			Message:    err.Error(),
			Err:        err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, c.wrap(op, entityType, entityID, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		msg := apiErrorMessage(respBody)
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode, string(respBody)),
			Operation:  op,
			EntityType: entityType,
			EntityID:   entityID,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
	return respBody, nil
}

func (c *Client) wrap(op, entityType, entityID string, err error) *Error {
	return &Error{
		Kind:       KindUnknown,
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    err.Error(),
		Err:        err,
	}
}

// apiErrorMessage pulls the human-readable message out of a PostgREST error
// body, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		if e.Code != "" {
			return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
		}
		return e.Message
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "request failed"
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// firstRow unwraps PostgREST's array-of-rows representation responses.
func firstRow(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err == nil {
			if len(rows) == 0 {
				return nil
			}
			return rows[0]
		}
	}
	return trimmed
}
