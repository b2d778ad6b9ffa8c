package batch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/batchflow/testutil"
)

// fakeGemini 模拟 Gemini Batch API 的最小子集
type fakeGemini struct {
	mu        sync.Mutex
	created   geminiBatchCreate
	state     string
	cancelled bool
	t         *testing.T
}

func (f *fakeGemini) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(f.t, http.MethodPost, r.Method)
		switch {
		case strings.HasSuffix(r.URL.Path, ":batchGenerateContent"):
			f.mu.Lock()
			assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.created))
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"name":"batches/abc123","metadata":{"state":"BATCH_STATE_PENDING"}}`)
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			var body WireBody
			assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			if body.Contents[0].Parts[0].Text == "overload" {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"echo "},{"text":"`+
				body.Contents[0].Parts[0].Text+`"}]}}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3,"totalTokenCount":5}}`)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/v1beta/batches/abc123", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		state := f.state
		f.mu.Unlock()
		resp := `{"name":"batches/abc123","metadata":{"state":"` + state +
			`","batchStats":{"requestCount":"2","successfulRequestCount":"1","failedRequestCount":"1"}}`
		if state == "BATCH_STATE_SUCCEEDED" {
			resp += `,"done":true,"response":{"output":{"inlinedResponses":{"inlinedResponses":[` +
				`{"response":{"candidates":[{"content":{"parts":[{"text":"hi there"}]}}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}},"metadata":{"key":"a"}},` +
				`{"error":{"code":400,"message":"bad prompt"},"metadata":{"key":"b"}}]}}}`
		}
		_, _ = io.WriteString(w, resp+"}")
	})
	mux.HandleFunc("/v1beta/batches/abc123:cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/v1beta/batches/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"batch not found","status":"NOT_FOUND"}}`)
	})
	return mux
}

func newFakeGemini(t *testing.T) (*fakeGemini, *GeminiClient) {
	t.Helper()
	f := &fakeGemini{state: "BATCH_STATE_RUNNING", t: t}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	client := NewGeminiClient(GeminiConfig{APIKey: "test-key", BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	return f, client
}

func TestGeminiClient_BatchLifecycle(t *testing.T) {
	ctx := testutil.TestContext(t)
	f, client := newFakeGemini(t)

	job := &BatchJob{
		JobID: "batch-1",
		Requests: []BatchRequest{
			NewBatchRequest("q1", HardRequestDefaults(), WithCustomID("a"), WithSystemInstruction("sys")),
			NewBatchRequest("q2", HardRequestDefaults(), WithCustomID("b")),
		},
	}
	id, err := client.Submit(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "batches/abc123", id)

	f.mu.Lock()
	inlined := f.created.Batch.InputConfig.Requests.Requests
	f.mu.Unlock()
	require.Len(t, inlined, 2)
	assert.Equal(t, "a", inlined[0].Metadata["key"])
	assert.Equal(t, "q1", inlined[0].Request.Contents[0].Parts[0].Text)
	require.NotNil(t, inlined[0].Request.SystemInstruction)
	assert.Nil(t, inlined[1].Request.SystemInstruction)

	st, err := client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RemoteRunning, st.State)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Completed)

	f.mu.Lock()
	f.state = "BATCH_STATE_SUCCEEDED"
	f.mu.Unlock()

	st, err = client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RemoteSucceeded, st.State)

	results, err := client.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, BatchResult{CustomID: "a", Status: ResultSuccess, Content: "hi there",
		Usage: &Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}}, results[0])
	assert.Equal(t, BatchResult{CustomID: "b", Status: ResultError, Error: "bad prompt"}, results[1])

	require.NoError(t, client.Cancel(ctx, id))
	f.mu.Lock()
	assert.True(t, f.cancelled)
	f.mu.Unlock()
}

func TestGeminiClient_SubmitRejects(t *testing.T) {
	ctx := testutil.TestContext(t)
	_, client := newFakeGemini(t)

	_, err := client.Submit(ctx, &BatchJob{JobID: "batch-empty"})
	assert.Error(t, err)

	_, err = client.Submit(ctx, &BatchJob{JobID: "batch-mixed", Requests: []BatchRequest{
		NewBatchRequest("a", HardRequestDefaults(), WithModel("m1")),
		NewBatchRequest("b", HardRequestDefaults(), WithModel("m2")),
	}})
	assert.ErrorContains(t, err, "mixes models")
}

func TestGeminiClient_APIError(t *testing.T) {
	ctx := testutil.TestContext(t)
	_, client := newFakeGemini(t)

	_, err := client.Status(ctx, "batches/missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "batch not found", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestGeminiClient_GenerateContent(t *testing.T) {
	ctx := testutil.TestContext(t)
	_, client := newFakeGemini(t)

	res, err := client.GenerateContent(ctx, NewBatchRequest("ping", HardRequestDefaults(), WithCustomID("r1")))
	require.NoError(t, err)
	assert.Equal(t, "r1", res.CustomID)
	assert.Equal(t, "echo ping", res.Content)
	assert.Equal(t, 5, res.Usage.TotalTokens)

	_, err = client.GenerateContent(ctx, NewBatchRequest("overload", HardRequestDefaults()))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
}

func TestMapGeminiState(t *testing.T) {
	tests := map[string]RemoteState{
		"BATCH_STATE_PENDING":   RemotePending,
		"BATCH_STATE_RUNNING":   RemoteRunning,
		"BATCH_STATE_SUCCEEDED": RemoteSucceeded,
		"BATCH_STATE_FAILED":    RemoteFailed,
		"BATCH_STATE_EXPIRED":   RemoteFailed,
		"BATCH_STATE_CANCELLED": RemoteCancelled,
		"JOB_STATE_SUCCEEDED":   RemoteSucceeded,
		"JOB_STATE_QUEUED":      RemotePending,
		"":                      RemotePending,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapGeminiState(in), in)
	}
}
