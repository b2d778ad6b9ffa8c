package batch

import (
	"time"

	"github.com/google/uuid"
)

// BatchJobStatus 远程批处理任务状态
type BatchJobStatus string

const (
	StatusPending    BatchJobStatus = "PENDING"
	StatusProcessing BatchJobStatus = "PROCESSING"
	StatusCompleted  BatchJobStatus = "COMPLETED"
	StatusFailed     BatchJobStatus = "FAILED"
	StatusCancelled  BatchJobStatus = "CANCELLED"
)

// IsTerminal 报告是否为终态（COMPLETED、FAILED、CANCELLED）
func (s BatchJobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// canTransition 合法的状态转换：PENDING → PROCESSING|FAILED|CANCELLED，
// PROCESSING → COMPLETED|FAILED|CANCELLED。终态不可再变。
func (s BatchJobStatus) canTransition(to BatchJobStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// BatchJob 是一个远程批处理任务。
//
// 注册到 BatchProcessor 后，字段只能在处理器锁内修改；并发读取请使用
// BatchProcessor.Snapshot 或在任务进入终态后读取。
type BatchJob struct {
	JobID          string         `json:"job_id"`
	Status         BatchJobStatus `json:"status"`
	Requests       []BatchRequest `json:"requests"`
	Results        []BatchResult  `json:"results,omitempty"`
	InputFilePath  string         `json:"input_file_path"`
	OutputFilePath string         `json:"output_file_path,omitempty"`
	RemoteID       string         `json:"remote_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// newJobID 生成 "batch-" 前缀的任务 ID
func newJobID() string {
	return "batch-" + uuid.NewString()
}

// Snapshot 返回深拷贝
func (j *BatchJob) Snapshot() *BatchJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Requests != nil {
		cp.Requests = append([]BatchRequest(nil), j.Requests...)
	}
	if j.Results != nil {
		cp.Results = make([]BatchResult, len(j.Results))
		for i, r := range j.Results {
			if r.Usage != nil {
				u := *r.Usage
				r.Usage = &u
			}
			cp.Results[i] = r
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// JobSummary 任务结果汇总
type JobSummary struct {
	Requests    int `json:"requests"`
	Succeeded   int `json:"succeeded"`
	Errored     int `json:"errored"`
	TotalTokens int `json:"total_tokens"`
}

// Summary 统计结果数量与 Token 用量
func (j *BatchJob) Summary() JobSummary {
	s := JobSummary{Requests: len(j.Requests)}
	for _, r := range j.Results {
		if r.OK() {
			s.Succeeded++
		} else {
			s.Errored++
		}
		if r.Usage != nil {
			s.TotalTokens += r.Usage.TotalTokens
		}
	}
	return s
}

// ProcessorStats 各状态任务数
type ProcessorStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Active 返回未结束的任务数
func (s ProcessorStats) Active() int {
	return s.Pending + s.Processing
}
