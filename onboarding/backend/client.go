package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Collaborator endpoint paths, relative to the backend base URL.
const (
	pathAssistantStream = "/api/v1/onboarding/assistant"
	pathMemory          = "/api/v1/memory"
	pathCommit          = "/api/v1/onboarding/commit"
	pathReset           = "/api/v1/onboarding/reset"
	pathFamilies        = "/api/v1/families"
)

// Client talks to the onboarding backend. Streaming requests use a client
// without an overall timeout since a healthy assistant stream can outlive
// any fixed deadline; callers bound it through the request context.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	streamc *http.Client
}

func New(baseURL, token string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
		streamc: &http.Client{
			Transport: transport,
		},
	}
}

// StreamAssistant opens the assistant SSE stream for one user message. The
// caller owns the returned body and must close it; cancelling ctx aborts the
// stream mid-read.
func (c *Client) StreamAssistant(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal assistant request")
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathAssistantStream, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build assistant request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	hreq.Header.Set("Cache-Control", "no-cache")
	hreq.Header.Set("X-Family-ID", req.FamilyID)
	hreq.Header.Set("X-User-ID", req.UserID)
	c.authorize(hreq)

	resp, err := c.streamc.Do(hreq)
	if err != nil {
		return nil, errors.Wrap(err, "open assistant stream")
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, httpError(pathAssistantStream, resp)
	}
	return resp.Body, nil
}

// UpsertMemory idempotently stores one changed slot.
func (c *Client) UpsertMemory(ctx context.Context, up MemoryUpsert) error {
	return c.call(ctx, http.MethodPut, pathMemory, up, nil)
}

// Commit persists the normalized onboarding triple.
func (c *Client) Commit(ctx context.Context, req CommitRequest) (*CommitResponse, error) {
	var out CommitResponse
	if err := c.call(ctx, http.MethodPost, pathCommit, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset clears server-side onboarding state for the identity.
func (c *Client) Reset(ctx context.Context, req ResetRequest) error {
	return c.call(ctx, http.MethodPost, pathReset, req, nil)
}

// ResolveFamily creates (or finds) the family record for a name and returns
// its id.
func (c *Client) ResolveFamily(ctx context.Context, familyName string) (string, error) {
	var out ResolveFamilyResponse
	if err := c.call(ctx, http.MethodPost, pathFamilies, ResolveFamilyRequest{FamilyName: familyName}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("family resolution returned no id")
	}
	return out.ID, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "marshal %s request", path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build %s request", path)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func httpError(path string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return errors.Errorf("backend %s: HTTP %d", path, resp.StatusCode)
	}
	return errors.Errorf("backend %s: HTTP %d: %s", path, resp.StatusCode, msg)
}
