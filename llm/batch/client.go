package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/llm/tokenizer"
)

// RemoteState provider 侧批任务状态
type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteRunning   RemoteState = "running"
	RemoteSucceeded RemoteState = "succeeded"
	RemoteFailed    RemoteState = "failed"
	RemoteCancelled RemoteState = "cancelled"
)

// RemoteStatus 一次状态查询的结果
type RemoteStatus struct {
	State     RemoteState
	Message   string
	Completed int
	Total     int
}

// RemoteClient 是下游批处理服务的抽象。
// Submit 收到的是任务快照，实现不应保留或修改它。
type RemoteClient interface {
	Submit(ctx context.Context, job *BatchJob) (remoteID string, err error)
	Status(ctx context.Context, remoteID string) (RemoteStatus, error)
	Results(ctx context.Context, remoteID string) ([]BatchResult, error)
	Cancel(ctx context.Context, remoteID string) error
}

// ContentGenerator 同步生成单条内容，LocalClient 与 GeminiClient 均实现
type ContentGenerator interface {
	GenerateContent(ctx context.Context, req BatchRequest) (BatchResult, error)
}

var (
	_ ContentGenerator = (*LocalClient)(nil)
	_ ContentGenerator = (*GeminiClient)(nil)
)

// ErrRemoteJobNotFound 远端不存在该任务
var ErrRemoteJobNotFound = errors.New("remote job not found")

// =============================================================================
// 🏠 LocalClient
// =============================================================================

// LocalClient 在本地模拟批处理服务：读取提交的 JSONL，为每行生成
// "Processed: <text>" 的成功结果。用于开发与测试。
// 结果取走后任务即被移除；取消的任务只保留状态，不再持有记录。
type LocalClient struct {
	mu        sync.Mutex
	jobs      map[string]*localJob
	submitted int

	delay      time.Duration
	submitErr  error
	failureMsg string
	logger     *zap.Logger
}

type localJob struct {
	records     []WireRecord
	total       int
	submittedAt time.Time
	cancelled   bool
}

// LocalOption 配置 LocalClient
type LocalOption func(*LocalClient)

// WithCompletionDelay 提交后经过 d 才报告完成
func WithCompletionDelay(d time.Duration) LocalOption {
	return func(c *LocalClient) { c.delay = d }
}

// WithSubmitError 让 Submit 总是返回 err
func WithSubmitError(err error) LocalOption {
	return func(c *LocalClient) { c.submitErr = err }
}

// WithRemoteFailure 让任务在完成时刻报告失败
func WithRemoteFailure(message string) LocalOption {
	return func(c *LocalClient) { c.failureMsg = message }
}

// WithLocalLogger 设置日志
func WithLocalLogger(logger *zap.Logger) LocalOption {
	return func(c *LocalClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewLocalClient 创建本地客户端
func NewLocalClient(opts ...LocalOption) *LocalClient {
	c := &LocalClient{
		jobs:   make(map[string]*localJob),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "local_batch_client"))
	return c
}

// Submit 读取任务输入文件并登记
func (c *LocalClient) Submit(ctx context.Context, job *BatchJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.submitErr != nil {
		return "", c.submitErr
	}
	records, err := readWireRecords(job.InputFilePath)
	if err != nil {
		return "", fmt.Errorf("read input file: %w", err)
	}

	id := "local-" + uuid.NewString()
	c.mu.Lock()
	c.jobs[id] = &localJob{records: records, total: len(records), submittedAt: time.Now()}
	c.submitted++
	c.mu.Unlock()

	c.logger.Debug("job accepted",
		zap.String("remote_id", id),
		zap.String("job_id", job.JobID),
		zap.Int("records", len(records)),
	)
	return id, nil
}

// Status 查询状态
func (c *LocalClient) Status(ctx context.Context, remoteID string) (RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return RemoteStatus{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[remoteID]
	if !ok {
		return RemoteStatus{}, fmt.Errorf("%w: %s", ErrRemoteJobNotFound, remoteID)
	}
	total := j.total
	switch {
	case j.cancelled:
		return RemoteStatus{State: RemoteCancelled, Total: total}, nil
	case time.Since(j.submittedAt) < c.delay:
		return RemoteStatus{State: RemoteRunning, Total: total}, nil
	case c.failureMsg != "":
		return RemoteStatus{State: RemoteFailed, Message: c.failureMsg, Total: total}, nil
	}
	return RemoteStatus{State: RemoteSucceeded, Completed: total, Total: total}, nil
}

// Results 为每条记录生成成功结果，并移除该任务
func (c *LocalClient) Results(ctx context.Context, remoteID string) ([]BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	j, ok := c.jobs[remoteID]
	if ok && !j.cancelled {
		delete(c.jobs, remoteID)
	}
	c.mu.Unlock()
	if !ok || j.cancelled {
		return nil, fmt.Errorf("%w: %s", ErrRemoteJobNotFound, remoteID)
	}

	results := make([]BatchResult, 0, len(j.records))
	for _, rec := range j.records {
		results = append(results, localResult(rec.CustomID, rec.ModelName(), rec.PromptText()))
	}
	return results, nil
}

// GenerateContent 同步生成单条结果，供进程内执行器使用
func (c *LocalClient) GenerateContent(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}
	return localResult(req.CustomID, req.ModelName, req.Text), nil
}

func localResult(customID, model, text string) BatchResult {
	content := "Processed: " + text
	counter := tokenizer.ForModel(model)
	prompt := counter.Count(text)
	completion := counter.Count(content)
	return BatchResult{
		CustomID: customID,
		Status:   ResultSuccess,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

// Cancel 标记任务取消
func (c *LocalClient) Cancel(_ context.Context, remoteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[remoteID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRemoteJobNotFound, remoteID)
	}
	j.cancelled = true
	j.records = nil
	return nil
}

// Submitted 返回累计接收的任务数
func (c *LocalClient) Submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

// Active 返回仍在跟踪的任务数
func (c *LocalClient) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}
