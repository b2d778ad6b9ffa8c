package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/llm/batch"
	"github.com/BaSui01/batchflow/llm/retry"
)

// =============================================================================
// 📤 submit 命令
// =============================================================================

type submitOptions struct {
	system  string
	wait    bool
	results bool
	cleanup bool
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	promptsPath := fs.String("prompts", "", "Prompt file, one prompt per line (\"-\" for stdin)")
	var opts submitOptions
	fs.StringVar(&opts.system, "system", "", "System instruction for every prompt")
	fs.BoolVar(&opts.wait, "wait", true, "Poll until the job is terminal")
	fs.BoolVar(&opts.results, "results", false, "Print every result as a JSON line")
	fs.BoolVar(&opts.cleanup, "cleanup", false, "Delete batch files after archiving")
	_ = fs.Parse(args)

	return withApp(*configPath, func(ctx context.Context, a *app) error {
		prompts, err := readPromptsFrom(*promptsPath)
		if err != nil {
			return err
		}
		_, err = submitPrompts(ctx, a, a.processor(), prompts, opts, os.Stdout)
		return err
	})
}

// submitPrompts 创建并提交批任务；opts.wait 为 true 时轮询到终态并输出汇总。
// 任务以 FAILED 或 CANCELLED 结束时返回错误，供命令行设置退出码。
func submitPrompts(ctx context.Context, a *app, bp *batch.BatchProcessor, prompts []string, opts submitOptions, out io.Writer) (*batch.BatchJob, error) {
	requests := make([]batch.BatchRequest, 0, len(prompts))
	for _, p := range prompts {
		var ro []batch.RequestOption
		if opts.system != "" {
			ro = append(ro, batch.WithSystemInstruction(opts.system))
		}
		requests = append(requests, bp.CreateBatchRequest(p, ro...))
	}

	job, err := bp.CreateBatchJob(requests)
	if err != nil {
		return nil, fmt.Errorf("create batch job: %w", err)
	}

	job, err = bp.SubmitBatchJob(ctx, job, func(j *batch.BatchJob) {
		a.logger.Info("batch job submitted",
			zap.String("job_id", j.JobID),
			zap.String("remote_id", j.RemoteID),
			zap.Int("requests", len(j.Requests)),
		)
	})
	if err != nil {
		return nil, err
	}

	if opts.wait {
		if _, err = bp.PollBatchJob(ctx, job, a.cfg.Batch.PollInterval, a.cfg.Batch.MaxWait); err != nil {
			if ctx.Err() != nil {
				// 用户中断：远端任务一并取消
				bp.CancelJob(context.WithoutCancel(ctx), job.JobID)
			} else {
				return nil, fmt.Errorf("poll batch job: %w", err)
			}
		}
	}

	snap, _ := bp.Snapshot(job.JobID)
	if err := printJob(out, snap, opts.results); err != nil {
		return snap, err
	}
	bp.CleanupCompletedJobs(context.WithoutCancel(ctx), opts.cleanup)

	switch snap.Status {
	case batch.StatusFailed:
		return snap, fmt.Errorf("batch job %s failed: %s", snap.JobID, snap.ErrorMessage)
	case batch.StatusCancelled:
		if err := ctx.Err(); err != nil {
			return snap, fmt.Errorf("batch job %s cancelled: %w", snap.JobID, err)
		}
		return snap, fmt.Errorf("batch job %s cancelled", snap.JobID)
	}
	return snap, nil
}

type jobReport struct {
	JobID        string               `json:"job_id"`
	Status       batch.BatchJobStatus `json:"status"`
	RemoteID     string               `json:"remote_id,omitempty"`
	InputFile    string               `json:"input_file"`
	OutputFile   string               `json:"output_file,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Summary      batch.JobSummary     `json:"summary"`
}

func printJob(out io.Writer, job *batch.BatchJob, withResults bool) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if withResults {
		for _, r := range job.Results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	enc.SetIndent("", "  ")
	return enc.Encode(jobReport{
		JobID:        job.JobID,
		Status:       job.Status,
		RemoteID:     job.RemoteID,
		InputFile:    job.InputFilePath,
		OutputFile:   job.OutputFilePath,
		ErrorMessage: job.ErrorMessage,
		Summary:      job.Summary(),
	})
}

// =============================================================================
// ⚡ run 命令
// =============================================================================

func runExecute(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	promptsPath := fs.String("prompts", "", "Prompt file, one prompt per line (\"-\" for stdin)")
	system := fs.String("system", "", "System instruction for every prompt")
	_ = fs.Parse(args)

	return withApp(*configPath, func(ctx context.Context, a *app) error {
		prompts, err := readPromptsFrom(*promptsPath)
		if err != nil {
			return err
		}
		return executePrompts(ctx, a, prompts, *system, os.Stdout)
	})
}

// executePrompts 以进程内执行器逐条调用后端，按输入顺序输出成功结果，
// 失败条目输出到日志。存在失败条目时返回错误。
func executePrompts(ctx context.Context, a *app, prompts []string, system string, out io.Writer) error {
	exec, err := a.executor(func(completed, total int) {
		a.logger.Debug("batch progress", zap.Int("completed", completed), zap.Int("total", total))
	})
	if err != nil {
		return err
	}

	defaults := batch.RequestDefaults{
		ModelName:       a.cfg.Batch.ModelName,
		Temperature:     batch.Float64Ptr(a.cfg.Batch.Temperature),
		MaxOutputTokens: a.cfg.Batch.MaxOutputTokens,
	}
	items := make([]batch.BatchRequest, 0, len(prompts))
	for _, p := range prompts {
		var ro []batch.RequestOption
		if system != "" {
			ro = append(ro, batch.WithSystemInstruction(system))
		}
		items = append(items, batch.NewBatchRequest(p, defaults, ro...))
	}

	res := exec.ProcessBatch(ctx, items, generate(a.client))

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, r := range res.Successful {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	for _, f := range res.Failed {
		a.logger.Error("prompt failed", zap.String("custom_id", f.Item.CustomID), zap.Error(f.Err))
	}

	a.logger.Info("batch execution finished",
		zap.Int("total", res.Total),
		zap.Int("successful", len(res.Successful)),
		zap.Int("failed", len(res.Failed)),
		zap.Float64("success_rate", res.SuccessRate()),
		zap.Duration("duration", res.Duration),
	)
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d prompts failed", len(res.Failed), res.Total)
	}
	return nil
}

// generate 将 ContentGenerator 适配为执行器操作；不可重试的 API 错误立即终止重试
func generate(gen batch.ContentGenerator) batch.Operation[batch.BatchRequest, batch.BatchResult] {
	return func(ctx context.Context, req batch.BatchRequest) (batch.BatchResult, error) {
		res, err := gen.GenerateContent(ctx, req)
		var apiErr *batch.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return res, retry.Permanent(err)
		}
		return res, err
	}
}

// =============================================================================
// 🗄️ history 命令
// =============================================================================

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 20, "Maximum number of jobs to list")
	_ = fs.Parse(args)

	return withApp(*configPath, func(ctx context.Context, a *app) error {
		return printHistory(ctx, a, *limit, os.Stdout)
	})
}

func printHistory(ctx context.Context, a *app, limit int, out io.Writer) error {
	if a.archive == nil {
		return errors.New("job archive not available, set redis.enabled")
	}
	jobs, err := a.archive.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list archived jobs: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tREQUESTS\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			j.JobID, j.Status, len(j.Requests), j.CreatedAt.Format(time.RFC3339), j.ErrorMessage)
	}
	return tw.Flush()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// withApp 加载配置、装配组件并在信号取消的 ctx 中执行 fn
func withApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting BatchFlow",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("client", cfg.Batch.Client),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return runErr
}

// readPromptsFrom 读取提示词文件，"-" 表示标准输入
func readPromptsFrom(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("--prompts is required")
	}
	if path == "-" {
		return readPrompts(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompts: %w", err)
	}
	defer f.Close()
	return readPrompts(f)
}

// readPrompts 每行一条提示词，忽略空行与 # 开头的注释行
func readPrompts(r io.Reader) ([]string, error) {
	var prompts []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, errors.New("no prompts found")
	}
	return prompts, nil
}
