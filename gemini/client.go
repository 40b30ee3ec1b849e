package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the production endpoint of the generateContent API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// apiKeyHeader carries the upstream credential. The key is supplied per call
// so a single client serves the whole credential pool.
const apiKeyHeader = "x-goog-api-key"

type (
	// Client is a REST client for the generateContent API. It is safe for
	// concurrent use; the API key is passed per call so one client serves
	// every key in the pool.
	Client struct {
		http    *http.Client
		baseURL string
	}

	// ClientOptions configures a Client.
	ClientOptions struct {
		// BaseURL overrides the production endpoint (tests, proxies).
		BaseURL string
		// HTTPClient overrides the transport. The client must not set a
		// global timeout: streaming responses outlive any sensible request
		// timeout, so deadlines are carried by the call context instead.
		HTTPClient *http.Client
	}

	// Streamer delivers upstream streaming chunks. Recv returns io.EOF after
	// the last chunk. Close releases the underlying connection and is safe to
	// call more than once.
	Streamer interface {
		Recv() (*Response, error)
		Close() error
	}

	// apiError mirrors the upstream error envelope.
	apiError struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
)

// NewClient constructs a Client with the provided options.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{http: hc, baseURL: base}
}

// GenerateContent issues a non-streaming generateContent call for model using
// apiKey and returns the decoded response.
func (c *Client) GenerateContent(ctx context.Context, apiKey, model string, req *Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, apiKey, model, "generateContent", "", req)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeError(httpResp)
	}
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, NewProviderError(KindUnavailable, httpResp.StatusCode, "", "malformed upstream response", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, NewProviderError(KindUnavailable, httpResp.StatusCode, "", "no candidates in upstream response", nil)
	}
	return &resp, nil
}

// StreamGenerateContent opens a streaming generateContent call. The returned
// Streamer yields cumulative chunks until io.EOF; callers must Close it. The
// call context governs the whole stream: cancelling it aborts the upstream
// connection.
func (c *Client) StreamGenerateContent(ctx context.Context, apiKey, model string, req *Request) (Streamer, error) {
	httpReq, err := c.newRequest(ctx, apiKey, model, "streamGenerateContent", "alt=sse", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		return nil, decodeError(httpResp)
	}
	return newStream(ctx, httpResp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, apiKey, model, method, query string, req *Request) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, url.PathEscape(model), method)
	if query != "" {
		u += "?" + query
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, apiKey)
	return httpReq, nil
}

// decodeError turns a non-200 upstream response into a ProviderError.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		kind := classifyStatus(resp.StatusCode, ae.Error.Status)
		return NewProviderError(kind, resp.StatusCode, ae.Error.Status, ae.Error.Message, nil)
	}
	kind := classifyStatus(resp.StatusCode, "")
	return NewProviderError(kind, resp.StatusCode, "", fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
}
