package batch

import "time"

// ResultStatus 单条结果状态
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Usage Token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// BatchResult 是单个请求的结果，按 CustomID 与请求对应
type BatchResult struct {
	CustomID string       `json:"custom_id"`
	Status   ResultStatus `json:"status"`
	Content  string       `json:"content,omitempty"`
	Error    string       `json:"error,omitempty"`
	Usage    *Usage       `json:"usage,omitempty"`
}

// OK 报告结果是否成功
func (r BatchResult) OK() bool { return r.Status == ResultSuccess }

// correlateResults 按请求顺序排列结果，每个请求恰好一条；远端缺失的记为错误结果
func correlateResults(requests []BatchRequest, results []BatchResult) []BatchResult {
	byID := make(map[string]BatchResult, len(results))
	for _, r := range results {
		if _, dup := byID[r.CustomID]; !dup {
			byID[r.CustomID] = r
		}
	}

	ordered := make([]BatchResult, len(requests))
	for i, req := range requests {
		if r, ok := byID[req.CustomID]; ok {
			ordered[i] = r
			continue
		}
		ordered[i] = BatchResult{
			CustomID: req.CustomID,
			Status:   ResultError,
			Error:    "no result returned for request",
		}
	}
	return ordered
}

// =============================================================================
// ⚙️ 执行器结果
// =============================================================================

// FailedItem 是重试耗尽后仍失败的输入及其最后一次错误
type FailedItem[TIn any] struct {
	Item TIn
	Err  error
}

// BatchExecutionResult 是 SmartBatchProcessor.ProcessBatch 的输出
type BatchExecutionResult[TIn, TOut any] struct {
	// Successful 按输入提交顺序排列（仅包含成功条目）
	Successful []TOut
	Failed     []FailedItem[TIn]
	Total      int
	Duration   time.Duration
}

// SuccessRate 返回成功比例，Total 为 0 时返回 0
func (r *BatchExecutionResult[TIn, TOut]) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Successful)) / float64(r.Total)
}
