package batch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// 请求级硬默认值，调用方与配置都未提供时使用
const (
	DefaultModelName       = "gemini-2.0-flash"
	DefaultTemperature     = 0.2
	DefaultMaxOutputTokens = 2048
)

// BatchRequest 是批次中的单个推理请求，构造后不可修改（按值传递）。
type BatchRequest struct {
	CustomID          string  `json:"custom_id"`
	Text              string  `json:"text"`
	ModelName         string  `json:"model_name"`
	SystemInstruction string  `json:"system_instruction,omitempty"`
	Temperature       float64 `json:"temperature"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
}

// RequestDefaults 请求构造时的默认值来源，通常来自配置。
// Temperature 为 nil 表示未提供，0 是合法取值。
type RequestDefaults struct {
	ModelName       string
	Temperature     *float64
	MaxOutputTokens int
}

// Float64Ptr 返回 f 的指针
func Float64Ptr(f float64) *float64 { return &f }

// HardRequestDefaults 返回内置默认值
func HardRequestDefaults() RequestDefaults {
	return RequestDefaults{
		ModelName:       DefaultModelName,
		Temperature:     Float64Ptr(DefaultTemperature),
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// withFallbacks 为缺失的字段补内置默认值
func (d RequestDefaults) withFallbacks() RequestDefaults {
	if d.ModelName == "" {
		d.ModelName = DefaultModelName
	}
	if d.Temperature == nil {
		d.Temperature = Float64Ptr(DefaultTemperature)
	}
	if d.MaxOutputTokens <= 0 {
		d.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return d
}

type requestOptions struct {
	customID          string
	systemInstruction string
	modelName         string
	temperature       *float64
	maxOutputTokens   *int
}

// RequestOption 配置 NewBatchRequest
type RequestOption func(*requestOptions)

// WithCustomID 指定 custom_id，为空时自动生成
func WithCustomID(id string) RequestOption {
	return func(o *requestOptions) { o.customID = id }
}

// WithSystemInstruction 设置系统指令
func WithSystemInstruction(s string) RequestOption {
	return func(o *requestOptions) { o.systemInstruction = s }
}

// WithModel 覆盖默认模型
func WithModel(model string) RequestOption {
	return func(o *requestOptions) { o.modelName = model }
}

// WithTemperature 显式设置温度（包括 0）
func WithTemperature(t float64) RequestOption {
	return func(o *requestOptions) { o.temperature = &t }
}

// WithMaxOutputTokens 显式设置最大输出 Token 数
func WithMaxOutputTokens(n int) RequestOption {
	return func(o *requestOptions) { o.maxOutputTokens = &n }
}

// NewBatchRequest 构造请求：显式选项 → defaults → 内置默认值。
// 未指定 custom_id 时生成 "req-" + 8 位十六进制。
func NewBatchRequest(text string, defaults RequestDefaults, opts ...RequestOption) BatchRequest {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	d := defaults.withFallbacks()

	req := BatchRequest{
		CustomID:          o.customID,
		Text:              text,
		ModelName:         d.ModelName,
		SystemInstruction: o.systemInstruction,
		Temperature:       *d.Temperature,
		MaxOutputTokens:   d.MaxOutputTokens,
	}
	if req.CustomID == "" {
		req.CustomID = NewRequestID()
	}
	if o.modelName != "" {
		req.ModelName = o.modelName
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	if o.maxOutputTokens != nil {
		req.MaxOutputTokens = *o.maxOutputTokens
	}
	return req
}

// NewRequestID 生成 "req-" 前缀的请求 ID
func NewRequestID() string {
	return "req-" + shortHex()
}

// shortHex 取 UUIDv4 字符串的前 8 位（均为十六进制字符）
func shortHex() string {
	return uuid.NewString()[:8]
}

var (
	errEmptyCustomID = errors.New("custom_id must not be empty")
	errEmptyModel    = errors.New("model_name must not be empty")
)

// Validate 校验请求
func (r BatchRequest) Validate() error {
	if r.CustomID == "" {
		return errEmptyCustomID
	}
	if r.ModelName == "" {
		return fmt.Errorf("request %s: %w", r.CustomID, errEmptyModel)
	}
	if r.MaxOutputTokens <= 0 {
		return fmt.Errorf("request %s: max_output_tokens must be positive, got %d", r.CustomID, r.MaxOutputTokens)
	}
	return nil
}

// =============================================================================
// 📝 Provider wire 格式
// =============================================================================

// WireRecord 是 JSONL 批文件中的一行
type WireRecord struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     WireBody `json:"body"`
}

// WireBody 是 generateContent 请求体
type WireBody struct {
	Contents          []WireContent        `json:"contents"`
	GenerationConfig  WireGenerationConfig `json:"generationConfig"`
	SystemInstruction *WireContent         `json:"systemInstruction,omitempty"`
}

// WireContent 是一组内容片段
type WireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []WirePart `json:"parts"`
}

// WirePart 是单个文本片段
type WirePart struct {
	Text string `json:"text"`
}

// WireGenerationConfig 生成参数
type WireGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// ToWireRecord 转换为 provider 批文件记录。纯函数，相同输入得到相同输出；
// SystemInstruction 非空时才带 systemInstruction 字段。
func (r BatchRequest) ToWireRecord() WireRecord {
	rec := WireRecord{
		CustomID: r.CustomID,
		Method:   "POST",
		URL:      fmt.Sprintf("/v1/models/%s:generateContent", r.ModelName),
		Body: WireBody{
			Contents: []WireContent{{Parts: []WirePart{{Text: r.Text}}}},
			GenerationConfig: WireGenerationConfig{
				Temperature:     r.Temperature,
				MaxOutputTokens: r.MaxOutputTokens,
			},
		},
	}
	if r.SystemInstruction != "" {
		rec.Body.SystemInstruction = &WireContent{Parts: []WirePart{{Text: r.SystemInstruction}}}
	}
	return rec
}

// PromptText 返回记录中的首段用户文本
func (w WireRecord) PromptText() string {
	if len(w.Body.Contents) == 0 || len(w.Body.Contents[0].Parts) == 0 {
		return ""
	}
	return w.Body.Contents[0].Parts[0].Text
}

// ModelName 从 URL 中解析模型名
func (w WireRecord) ModelName() string {
	const prefix = "/v1/models/"
	const suffix = ":generateContent"
	u := w.URL
	if len(u) <= len(prefix)+len(suffix) || u[:len(prefix)] != prefix || u[len(u)-len(suffix):] != suffix {
		return ""
	}
	return u[len(prefix) : len(u)-len(suffix)]
}
