package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContent(t *testing.T) {
	var gotPath, gotKey string
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := Response{
			Candidates: []Candidate{{
				Content:      Content{Role: "model", Parts: []Part{TextPart("Hello!")}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &UsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	resp, err := c.GenerateContent(context.Background(), "test-key", "gemini-1.5-pro-latest", &Request{
		Contents: []Content{{Role: "user", Parts: []Part{TextPart("hi")}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-1.5-pro-latest:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Len(t, gotReq.Contents, 1)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "Hello!", resp.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, 5, resp.UsageMetadata.TotalTokenCount)
}

func TestGenerateContentErrorEnvelope(t *testing.T) {
	cases := []struct {
		name     string
		httpCode int
		status   string
		kind     ErrorKind
		retry    bool
	}{
		{"quota", 429, "RESOURCE_EXHAUSTED", KindQuotaExhausted, true},
		{"unauthenticated", 401, "UNAUTHENTICATED", KindUnauthenticated, false},
		{"permission", 403, "PERMISSION_DENIED", KindPermissionDenied, false},
		{"invalid", 400, "INVALID_ARGUMENT", KindInvalidArgument, false},
		{"unavailable", 503, "UNAVAILABLE", KindUnavailable, true},
		{"internal no status", 500, "", KindUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.httpCode)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"boom","status":%q}}`, tc.httpCode, tc.status)
			}))
			defer srv.Close()

			c := NewClient(ClientOptions{BaseURL: srv.URL})
			_, err := c.GenerateContent(context.Background(), "k", "m", &Request{})
			require.Error(t, err)
			pe, ok := AsProviderError(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, pe.Kind())
			assert.Equal(t, tc.httpCode, pe.HTTPStatus())
			assert.Equal(t, tc.retry, pe.Retryable())
		})
	}
}

func TestGenerateContentNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := c.GenerateContent(context.Background(), "k", "m", &Request{})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, pe.Kind())
}

func TestGenerateContentEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := c.GenerateContent(context.Background(), "k", "m", &Request{})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, pe.Kind())
	assert.True(t, pe.Retryable())
}

func TestStreamGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "alt=sse", r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hello\"}]},\"finishReason\":\"STOP\"}]}\n\n")
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	st, err := c.StreamGenerateContent(context.Background(), "k", "gemini-1.5-flash", &Request{})
	require.NoError(t, err)
	defer st.Close()

	first, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", first.Candidates[0].Content.Parts[0].Text)

	second, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hello", second.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, "STOP", second.Candidates[0].FinishReason)

	_, err = st.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStreamSetupError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := c.StreamGenerateContent(context.Background(), "k", "m", &Request{})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindQuotaExhausted, pe.Kind())
}

func TestStreamMalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	st, err := c.StreamGenerateContent(context.Background(), "k", "m", &Request{})
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	require.Error(t, err)
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, pe.Kind())
}

func TestStreamContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ClientOptions{BaseURL: srv.URL})
	st, err := c.StreamGenerateContent(ctx, "k", "m", &Request{})
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	require.NoError(t, err)

	cancel()
	_, err = st.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKindOfPlainErrors(t *testing.T) {
	assert.Equal(t, KindUnavailable, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("weird")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
