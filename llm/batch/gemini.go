package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/internal/tlsutil"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiConfig Gemini 批处理 API 配置
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient 通过 Gemini Batch REST API 实现 RemoteClient。
// 请求以内联方式提交，custom_id 写入每条请求的 metadata.key。
type GeminiClient struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiClient 创建 Gemini 客户端
func NewGeminiClient(cfg GeminiConfig, logger *zap.Logger) *GeminiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "gemini_batch_client")),
	}
}

// APIError Gemini 返回的错误
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: status=%d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: status=%d: %s", e.StatusCode, e.Message)
}

// Retryable 429 与 5xx 可重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Gemini 批处理 wire 结构
type geminiBatchCreate struct {
	Batch geminiBatchSpec `json:"batch"`
}

type geminiBatchSpec struct {
	DisplayName string            `json:"displayName,omitempty"`
	InputConfig geminiInputConfig `json:"inputConfig"`
}

type geminiInputConfig struct {
	Requests geminiInlinedRequests `json:"requests"`
}

type geminiInlinedRequests struct {
	Requests []geminiInlinedRequest `json:"requests"`
}

type geminiInlinedRequest struct {
	Request  WireBody          `json:"request"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type geminiOperation struct {
	Name     string        `json:"name"`
	Done     bool          `json:"done"`
	Metadata *geminiBatch  `json:"metadata,omitempty"`
	Response *geminiBatch  `json:"response,omitempty"`
	Error    *geminiStatus `json:"error,omitempty"`
}

type geminiBatch struct {
	Name       string             `json:"name,omitempty"`
	State      string             `json:"state,omitempty"`
	BatchStats *geminiBatchStats  `json:"batchStats,omitempty"`
	Output     *geminiBatchOutput `json:"output,omitempty"`
}

type geminiBatchStats struct {
	RequestCount           json.Number `json:"requestCount,omitempty"`
	SuccessfulRequestCount json.Number `json:"successfulRequestCount,omitempty"`
	FailedRequestCount     json.Number `json:"failedRequestCount,omitempty"`
}

type geminiBatchOutput struct {
	InlinedResponses *geminiInlinedResponses `json:"inlinedResponses,omitempty"`
}

type geminiInlinedResponses struct {
	InlinedResponses []geminiInlinedResponse `json:"inlinedResponses"`
}

type geminiInlinedResponse struct {
	Response *geminiResponse   `json:"response,omitempty"`
	Error    *geminiStatus     `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      WireContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type geminiErrorResp struct {
	Error geminiStatus `json:"error"`
}

// Submit 以内联请求创建批任务，返回 batches/<id> 形式的名称
func (c *GeminiClient) Submit(ctx context.Context, job *BatchJob) (string, error) {
	if len(job.Requests) == 0 {
		return "", fmt.Errorf("gemini: job %s has no requests", job.JobID)
	}
	model := job.Requests[0].ModelName
	inlined := make([]geminiInlinedRequest, 0, len(job.Requests))
	for _, r := range job.Requests {
		if r.ModelName != model {
			return "", fmt.Errorf("gemini: batch mixes models %q and %q", model, r.ModelName)
		}
		inlined = append(inlined, geminiInlinedRequest{
			Request:  r.ToWireRecord().Body,
			Metadata: map[string]string{"key": r.CustomID},
		})
	}

	body := geminiBatchCreate{Batch: geminiBatchSpec{
		DisplayName: job.JobID,
		InputConfig: geminiInputConfig{Requests: geminiInlinedRequests{Requests: inlined}},
	}}

	var op geminiOperation
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:batchGenerateContent", c.cfg.BaseURL, model)
	if err := c.do(ctx, http.MethodPost, endpoint, body, &op); err != nil {
		return "", err
	}
	name := op.Name
	if name == "" && op.Metadata != nil {
		name = op.Metadata.Name
	}
	if name == "" {
		return "", fmt.Errorf("gemini: batch create response has no name")
	}

	c.logger.Info("batch submitted",
		zap.String("job_id", job.JobID),
		zap.String("remote_id", name),
		zap.Int("requests", len(inlined)),
	)
	return name, nil
}

// Status 查询批任务状态
func (c *GeminiClient) Status(ctx context.Context, remoteID string) (RemoteStatus, error) {
	op, err := c.get(ctx, remoteID)
	if err != nil {
		return RemoteStatus{}, err
	}

	b := op.batch()
	st := RemoteStatus{State: mapGeminiState(b.State)}
	if b.BatchStats != nil {
		total, _ := b.BatchStats.RequestCount.Int64()
		ok, _ := b.BatchStats.SuccessfulRequestCount.Int64()
		failed, _ := b.BatchStats.FailedRequestCount.Int64()
		st.Total = int(total)
		st.Completed = int(ok + failed)
	}
	if op.Error != nil {
		st.State = RemoteFailed
		st.Message = op.Error.Message
	}
	if st.State == RemoteFailed && st.Message == "" {
		st.Message = "remote batch " + strings.ToLower(strings.TrimPrefix(b.State, "BATCH_STATE_"))
	}
	return st, nil
}

// Results 读取内联响应
func (c *GeminiClient) Results(ctx context.Context, remoteID string) ([]BatchResult, error) {
	op, err := c.get(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	var items []geminiInlinedResponse
	for _, b := range []*geminiBatch{op.Response, op.Metadata} {
		if b != nil && b.Output != nil && b.Output.InlinedResponses != nil {
			items = b.Output.InlinedResponses.InlinedResponses
			break
		}
	}

	results := make([]BatchResult, 0, len(items))
	for _, it := range items {
		results = append(results, toBatchResult(it.Metadata["key"], it.Response, it.Error))
	}
	return results, nil
}

// Cancel 取消批任务
func (c *GeminiClient) Cancel(ctx context.Context, remoteID string) error {
	endpoint := fmt.Sprintf("%s/v1beta/%s:cancel", c.cfg.BaseURL, remoteID)
	return c.do(ctx, http.MethodPost, endpoint, struct{}{}, nil)
}

// GenerateContent 同步调用单条 generateContent，供进程内执行器使用
func (c *GeminiClient) GenerateContent(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := req.Validate(); err != nil {
		return BatchResult{}, err
	}
	var resp geminiResponse
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, req.ModelName)
	if err := c.do(ctx, http.MethodPost, endpoint, req.ToWireRecord().Body, &resp); err != nil {
		return BatchResult{}, err
	}
	return toBatchResult(req.CustomID, &resp, nil), nil
}

func (c *GeminiClient) get(ctx context.Context, remoteID string) (*geminiOperation, error) {
	var op geminiOperation
	endpoint := fmt.Sprintf("%s/v1beta/%s", c.cfg.BaseURL, remoteID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *GeminiClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gemini: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readGeminiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gemini: decode response: %w", err)
	}
	return nil
}

func readGeminiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er geminiErrorResp
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		apiErr.Status = er.Error.Status
		apiErr.Message = er.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (op *geminiOperation) batch() *geminiBatch {
	if op.Metadata != nil && op.Metadata.State != "" {
		return op.Metadata
	}
	if op.Response != nil {
		return op.Response
	}
	if op.Metadata != nil {
		return op.Metadata
	}
	return &geminiBatch{}
}

// mapGeminiState 兼容 BATCH_STATE_* 与 JOB_STATE_* 两套枚举
func mapGeminiState(state string) RemoteState {
	s := state
	s = strings.TrimPrefix(s, "BATCH_STATE_")
	s = strings.TrimPrefix(s, "JOB_STATE_")
	switch s {
	case "SUCCEEDED":
		return RemoteSucceeded
	case "FAILED", "EXPIRED":
		return RemoteFailed
	case "CANCELLED", "CANCELLING":
		return RemoteCancelled
	case "RUNNING":
		return RemoteRunning
	}
	return RemotePending
}

func toBatchResult(customID string, resp *geminiResponse, status *geminiStatus) BatchResult {
	if status != nil {
		return BatchResult{CustomID: customID, Status: ResultError, Error: status.Message}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return BatchResult{CustomID: customID, Status: ResultError, Error: "empty response"}
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	r := BatchResult{CustomID: customID, Status: ResultSuccess, Content: sb.String()}
	if u := resp.UsageMetadata; u != nil {
		r.Usage = &Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return r
}
