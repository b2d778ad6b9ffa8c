package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/internal/metrics"
)

var (
	ErrNilJob          = errors.New("batch job is nil")
	ErrInvalidInterval = errors.New("invalid poll interval")
	ErrJobNotFound     = errors.New("batch job not found")
	ErrDuplicateID     = errors.New("duplicate custom_id in batch")
)

const tracerName = "github.com/BaSui01/batchflow/llm/batch"

// BatchConfig 配置批处理器。零值字段在构造请求时回退到内置默认值，
// Temperature 为 nil 时使用 DefaultTemperature。
type BatchConfig struct {
	ModelName       string   `json:"model_name"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	OutputDir       string   `json:"output_dir"`
}

// DefaultBatchConfig 返回合理的默认值。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		ModelName:       DefaultModelName,
		Temperature:     Float64Ptr(DefaultTemperature),
		MaxOutputTokens: DefaultMaxOutputTokens,
		OutputDir:       "batch_files",
	}
}

// JobArchive 保存清理前的终态任务快照
type JobArchive interface {
	Archive(ctx context.Context, job *BatchJob) error
}

// ProcessorOption 配置 BatchProcessor
type ProcessorOption func(*BatchProcessor)

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) ProcessorOption {
	return func(p *BatchProcessor) { p.metrics = c }
}

// WithArchive 设置清理时使用的归档
func WithArchive(a JobArchive) ProcessorOption {
	return func(p *BatchProcessor) { p.archive = a }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) ProcessorOption {
	return func(p *BatchProcessor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// BatchProcessor 管理远程批处理任务的生命周期：构建 JSONL、提交、轮询、
// 收集结果与清理。
//
// 任务注册表与所有状态转换都在 mu 保护下进行，终态不可再转换，
// 因此并发的取消、清理与轮询对同一任务最多生效一次。
type BatchProcessor struct {
	cfg     BatchConfig
	client  RemoteClient
	logger  *zap.Logger
	metrics *metrics.Collector
	archive JobArchive
	tracer  trace.Tracer

	mu   sync.Mutex
	jobs map[string]*BatchJob
}

// NewBatchProcessor 创建批处理器。client 为 nil 时使用 LocalClient。
func NewBatchProcessor(cfg BatchConfig, client RemoteClient, logger *zap.Logger, opts ...ProcessorOption) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultBatchConfig().OutputDir
	}
	if cfg.Temperature != nil {
		cfg.Temperature = Float64Ptr(*cfg.Temperature)
	}
	if client == nil {
		client = NewLocalClient(WithLocalLogger(logger))
	}

	p := &BatchProcessor{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "batch_processor")),
		tracer: otel.Tracer(tracerName),
		jobs:   make(map[string]*BatchJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RequestDefaults 返回由配置解析出的请求默认值
func (p *BatchProcessor) RequestDefaults() RequestDefaults {
	return RequestDefaults{
		ModelName:       p.cfg.ModelName,
		Temperature:     p.cfg.Temperature,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
	}
}

// CreateBatchRequest 按处理器配置的默认值构造请求
func (p *BatchProcessor) CreateBatchRequest(text string, opts ...RequestOption) BatchRequest {
	return NewBatchRequest(text, p.RequestDefaults(), opts...)
}

// BuildJSONL 将请求写入输出目录下新建的 JSONL 文件，返回文件路径
func (p *BatchProcessor) BuildJSONL(requests []BatchRequest) (string, error) {
	seen := make(map[string]struct{}, len(requests))
	records := make([]WireRecord, 0, len(requests))
	for _, r := range requests {
		if err := r.Validate(); err != nil {
			return "", err
		}
		if _, dup := seen[r.CustomID]; dup {
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, r.CustomID)
		}
		seen[r.CustomID] = struct{}{}
		records = append(records, r.ToWireRecord())
	}

	path, err := writeJSONL(p.cfg.OutputDir, batchFileName(time.Now()), records, true)
	if err != nil {
		return "", err
	}
	p.logger.Debug("batch file written", zap.String("path", path), zap.Int("records", len(records)))
	return path, nil
}

// CreateBatchJob 构建输入文件并登记一个 PENDING 任务。
// 空请求列表会得到空批文件与零请求的任务。
func (p *BatchProcessor) CreateBatchJob(requests []BatchRequest) (*BatchJob, error) {
	path, err := p.BuildJSONL(requests)
	if err != nil {
		return nil, fmt.Errorf("create batch job: %w", err)
	}

	job := &BatchJob{
		JobID:         newJobID(),
		Status:        StatusPending,
		Requests:      append([]BatchRequest(nil), requests...),
		InputFilePath: path,
		CreatedAt:     time.Now().UTC(),
	}

	p.mu.Lock()
	p.jobs[job.JobID] = job
	p.mu.Unlock()

	p.metrics.RecordJobCreated()
	p.logger.Info("batch job created",
		zap.String("job_id", job.JobID),
		zap.Int("requests", len(requests)),
		zap.String("input_file", path),
	)
	return job, nil
}

// transition 在持有 p.mu 时调用。非法转换（包括离开终态）返回 false 且不修改任务。
func (p *BatchProcessor) transition(job *BatchJob, to BatchJobStatus, mutate func(*BatchJob)) bool {
	from := job.Status
	if !from.canTransition(to) {
		return false
	}
	job.Status = to
	if mutate != nil {
		mutate(job)
	}
	p.metrics.RecordJobTransition(string(from), string(to), to.IsTerminal(), time.Since(job.CreatedAt))
	p.logger.Info("batch job status changed",
		zap.String("job_id", job.JobID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("error", job.ErrorMessage),
	)
	return true
}

func (p *BatchProcessor) fail(job *BatchJob, msg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(job, StatusFailed, func(j *BatchJob) { j.ErrorMessage = msg })
}

// SubmitBatchJob 将 PENDING 任务提交到远端。
//
// 输入文件不存在或远端提交失败时任务转为 FAILED（以数据形式返回，err 为 nil），
// 且不调用 onSubmit。成功时任务转为 PROCESSING，并同步调用 onSubmit；
// onSubmit 收到的是任务快照副本，修改它不会影响处理器持有的任务。
// 非 PENDING 任务原样返回。
func (p *BatchProcessor) SubmitBatchJob(ctx context.Context, job *BatchJob, onSubmit func(*BatchJob)) (*BatchJob, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	ctx, span := p.tracer.Start(ctx, "batch.submit", trace.WithAttributes(attribute.String("batch.job_id", job.JobID)))
	defer span.End()

	p.mu.Lock()
	if job.Status != StatusPending {
		p.mu.Unlock()
		return job, nil
	}
	snapshot := job.Snapshot()
	p.mu.Unlock()

	if !fileExists(snapshot.InputFilePath) {
		p.fail(job, "Input file not found")
		span.SetStatus(codes.Error, "input file not found")
		p.logger.Warn("batch input file missing",
			zap.String("job_id", job.JobID),
			zap.String("input_file", snapshot.InputFilePath),
		)
		return job, nil
	}

	remoteID, err := p.client.Submit(ctx, snapshot)
	if err != nil {
		p.fail(job, "Batch submission failed: "+err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		return job, nil
	}

	p.mu.Lock()
	ok := p.transition(job, StatusProcessing, func(j *BatchJob) { j.RemoteID = remoteID })
	cancelled := !ok && job.Status == StatusCancelled
	if cancelled {
		job.RemoteID = remoteID
	}
	var view *BatchJob
	if ok {
		view = job.Snapshot()
	}
	p.mu.Unlock()

	if cancelled {
		// 提交期间已被取消，撤回远端任务
		if err := p.client.Cancel(context.WithoutCancel(ctx), remoteID); err != nil {
			p.logger.Warn("remote cancel failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		return job, nil
	}
	if !ok {
		return job, nil
	}

	span.SetAttributes(attribute.String("batch.remote_id", remoteID))
	if onSubmit != nil {
		onSubmit(view)
	}
	return job, nil
}

// PollBatchJob 轮询任务直到终态或超时。
//
// 每个 interval 最多查询一次远端状态；从开始轮询起超过 maxWait 即转为 FAILED。
// 查询出错视为暂时性故障，记录日志后在下一个周期重试。
// ctx 取消时返回 ctx.Err()，任务状态保持不变。
func (p *BatchProcessor) PollBatchJob(ctx context.Context, job *BatchJob, interval, maxWait time.Duration) (*BatchJob, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	if interval <= 0 {
		return job, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if maxWait < 0 {
		return job, fmt.Errorf("%w: negative max wait %s", ErrInvalidInterval, maxWait)
	}

	ctx, span := p.tracer.Start(ctx, "batch.poll", trace.WithAttributes(
		attribute.String("batch.job_id", job.JobID),
		attribute.String("batch.interval", interval.String()),
	))
	defer span.End()

	deadline := time.Now().Add(maxWait)
	polls := 0
	for {
		p.mu.Lock()
		status, remoteID := job.Status, job.RemoteID
		p.mu.Unlock()

		if status.IsTerminal() {
			span.SetAttributes(attribute.Int("batch.polls", polls), attribute.String("batch.status", string(status)))
			return job, nil
		}
		if !time.Now().Before(deadline) {
			p.fail(job, fmt.Sprintf("Batch job timed out after %s", maxWait))
			span.SetStatus(codes.Error, "timeout")
			continue
		}

		if remoteID != "" {
			polls++
			if done, err := p.pollOnce(ctx, job, remoteID); err != nil {
				return job, err
			} else if done {
				continue
			}
		}

		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return job, ctx.Err()
		case <-timer.C:
		}
	}
}

// PollJob 按 ID 查找并轮询任务
func (p *BatchProcessor) PollJob(ctx context.Context, jobID string, interval, maxWait time.Duration) (*BatchJob, error) {
	job, ok := p.GetJob(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return p.PollBatchJob(ctx, job, interval, maxWait)
}

// pollOnce 查询一次远端状态。done 表示任务可能已进入终态；
// 仅在 ctx 结束时返回错误。
func (p *BatchProcessor) pollOnce(ctx context.Context, job *BatchJob, remoteID string) (bool, error) {
	st, err := p.client.Status(ctx, remoteID)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.metrics.RecordPoll("error")
		p.logger.Warn("batch status query failed",
			zap.String("job_id", job.JobID),
			zap.String("remote_id", remoteID),
			zap.Error(err),
		)
		return false, nil
	}

	switch st.State {
	case RemoteSucceeded:
		p.metrics.RecordPoll("completed")
		return p.complete(ctx, job, remoteID)
	case RemoteFailed:
		p.metrics.RecordPoll("failed")
		msg := st.Message
		if msg == "" {
			msg = "Remote batch job failed"
		}
		p.fail(job, msg)
		return true, nil
	case RemoteCancelled:
		p.metrics.RecordPoll("cancelled")
		p.mu.Lock()
		p.transition(job, StatusCancelled, nil)
		p.mu.Unlock()
		return true, nil
	}

	p.metrics.RecordPoll("pending")
	p.logger.Debug("batch job still running",
		zap.String("job_id", job.JobID),
		zap.Int("completed", st.Completed),
		zap.Int("total", st.Total),
	)
	return false, nil
}

// complete 拉取结果、写结果文件并将任务置为 COMPLETED
func (p *BatchProcessor) complete(ctx context.Context, job *BatchJob, remoteID string) (bool, error) {
	remote, err := p.client.Results(ctx, remoteID)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Warn("fetch batch results failed, will retry",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
		return false, nil
	}

	// Requests 与 InputFilePath 在创建后不再修改
	results := correlateResults(job.Requests, remote)
	input := job.InputFilePath
	outPath, err := writeJSONL(filepath.Dir(input), filepath.Base(resultsFilePath(input)), results, false)
	if err != nil {
		p.fail(job, "Failed to write results: "+err.Error())
		return true, nil
	}

	p.mu.Lock()
	ok := p.transition(job, StatusCompleted, func(j *BatchJob) {
		now := time.Now().UTC()
		j.Results = results
		j.OutputFilePath = outPath
		j.CompletedAt = &now
	})
	var summary JobSummary
	if ok {
		summary = job.Summary()
	}
	p.mu.Unlock()

	if !ok {
		// 期间被取消或清理
		_ = removeIfExists(outPath)
		return true, nil
	}
	p.logger.Info("batch job completed",
		zap.String("job_id", job.JobID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("errored", summary.Errored),
		zap.Int("total_tokens", summary.TotalTokens),
		zap.String("output_file", outPath),
	)
	return true, nil
}

// GetJob 返回已登记的任务
func (p *BatchProcessor) GetJob(jobID string) (*BatchJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[jobID]
	return job, ok
}

// Snapshot 返回任务的深拷贝，可在轮询进行时安全读取
func (p *BatchProcessor) Snapshot(jobID string) (*BatchJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

// ListJobs 按创建时间返回任务，可按状态过滤
func (p *BatchProcessor) ListJobs(statuses ...BatchJobStatus) []*BatchJob {
	p.mu.Lock()
	jobs := make([]*BatchJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		if len(statuses) == 0 || containsStatus(statuses, j.Status) {
			jobs = append(jobs, j)
		}
	}
	p.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].JobID < jobs[b].JobID
	})
	return jobs
}

func containsStatus(list []BatchJobStatus, s BatchJobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CancelJob 取消 PENDING 或 PROCESSING 的任务，并尽力取消远端任务。
// 任务不存在或已是终态时返回 false。
func (p *BatchProcessor) CancelJob(ctx context.Context, jobID string) bool {
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	remoteID := job.RemoteID
	cancelled := p.transition(job, StatusCancelled, nil)
	p.mu.Unlock()

	if cancelled && remoteID != "" {
		if err := p.client.Cancel(ctx, remoteID); err != nil {
			p.logger.Warn("remote cancel failed",
				zap.String("job_id", jobID),
				zap.String("remote_id", remoteID),
				zap.Error(err),
			)
		}
	}
	return cancelled
}

// CleanupCompletedJobs 移除所有终态任务，返回移除数量。
// 配置了归档时先归档快照；deleteFiles 为 true 时删除输入与结果文件（文件不存在不报错）。
func (p *BatchProcessor) CleanupCompletedJobs(ctx context.Context, deleteFiles bool) int {
	p.mu.Lock()
	var removed []*BatchJob
	for id, j := range p.jobs {
		if j.Status.IsTerminal() {
			removed = append(removed, j.Snapshot())
			delete(p.jobs, id)
		}
	}
	p.mu.Unlock()

	for _, j := range removed {
		if p.archive != nil {
			if err := p.archive.Archive(ctx, j); err != nil {
				p.logger.Warn("archive batch job failed", zap.String("job_id", j.JobID), zap.Error(err))
			}
		}
		if deleteFiles {
			if err := errors.Join(removeIfExists(j.InputFilePath), removeIfExists(j.OutputFilePath)); err != nil {
				p.logger.Warn("remove batch files failed", zap.String("job_id", j.JobID), zap.Error(err))
			}
		}
	}

	p.metrics.RecordJobsCleaned(len(removed))
	if len(removed) > 0 {
		p.logger.Info("batch jobs cleaned up",
			zap.Int("count", len(removed)),
			zap.Bool("files_deleted", deleteFiles),
		)
	}
	return len(removed)
}

// Stats 返回各状态任务数
func (p *BatchProcessor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProcessorStats{Total: len(p.jobs)}
	for _, j := range p.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}
