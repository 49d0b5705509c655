// Package remote speaks the fairway HTTP API so a client process can drive entity hooks
// against a running server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	errMissingBaseURL  = errors.New("remote: base url required")
	errMissingCallback = errors.New("remote: subscription callbacks required")
)

// Error is a non-success response from the API.
type Error struct {
	Status int
	Code   string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Code)
}

// Unwrap maps not-found responses onto documents.ErrNotFound.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusNotFound && strings.HasSuffix(e.Code, ".not_found") {
		return documents.ErrNotFound
	}
	return nil
}

// Config describes how to reach the API.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client implements the entity backend and the auth provider over HTTP.
// The server scopes every collection to the token's user, so owner arguments only label requests.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", parsed.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
	}, nil
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

type listResponse struct {
	Documents []json.RawMessage `json:"documents"`
}

type addResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// List returns every document of the collection.
func (c *Client) List(ctx context.Context, collection, _ string) ([]documents.Record, error) {
	var response listResponse
	if err := c.do(ctx, http.MethodGet, collectionPath(collection), nil, &response); err != nil {
		return nil, err
	}
	return recordsFromObjects(response.Documents)
}

// Get returns one document.
func (c *Client) Get(ctx context.Context, collection, _ string, documentID string) (documents.Record, error) {
	var object json.RawMessage
	if err := c.do(ctx, http.MethodGet, documentPath(collection, documentID), nil, &object); err != nil {
		return documents.Record{}, err
	}
	return documents.RecordFromObject(object)
}

// Add creates a document and returns the id assigned by the server.
func (c *Client) Add(ctx context.Context, collection, _ string, payload json.RawMessage) (string, error) {
	var response addResponse
	if err := c.do(ctx, http.MethodPost, collectionPath(collection), payload, &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// Set replaces the document payload, creating it when missing.
func (c *Client) Set(ctx context.Context, collection, _ string, documentID string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPut, documentPath(collection, documentID), payload, nil)
}

// Update merges fields into an existing document.
func (c *Client) Update(ctx context.Context, collection, _ string, documentID string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("remote: encode fields: %w", err)
	}
	return c.do(ctx, http.MethodPatch, documentPath(collection, documentID), encoded, nil)
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, collection, _ string, documentID string) error {
	return c.do(ctx, http.MethodDelete, documentPath(collection, documentID), nil, nil)
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// SignUp registers an account and returns its session grant.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (auth.Grant, error) {
	return c.exchange(ctx, "/auth/sign-up", credentialsRequest{Email: email, Password: password, DisplayName: displayName})
}

// SignIn exchanges credentials for a session grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.Grant, error) {
	return c.exchange(ctx, "/auth/sign-in", credentialsRequest{Email: email, Password: password})
}

// SignOut ends the session identified by token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.WithToken(token).do(ctx, http.MethodPost, "/auth/sign-out", nil, nil)
}

func (c *Client) exchange(ctx context.Context, path string, request credentialsRequest) (auth.Grant, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return auth.Grant{}, err
	}
	var grant auth.Grant
	if err := c.do(ctx, http.MethodPost, path, body, &grant); err != nil {
		return auth.Grant{}, err
	}
	return grant, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		var failure errorResponse
		_ = json.NewDecoder(response.Body).Decode(&failure)
		return &Error{Status: response.StatusCode, Code: failure.Error}
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func collectionPath(collection string) string {
	return "/api/" + url.PathEscape(strings.TrimSpace(collection))
}

func documentPath(collection, documentID string) string {
	return collectionPath(collection) + "/" + url.PathEscape(documentID)
}

func recordsFromObjects(objects []json.RawMessage) ([]documents.Record, error) {
	records := make([]documents.Record, 0, len(objects))
	for _, object := range objects {
		record, err := documents.RecordFromObject(object)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// CurrentUser returns the user the client's token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (auth.User, error) {
	var user auth.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return auth.User{}, err
	}
	return user, nil
}
