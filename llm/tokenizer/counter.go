package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Counter 统计文本的 Token 数
type Counter interface {
	Count(text string) int
	Name() string
}

// ForModel 返回模型对应的计数器。
// 已知 tiktoken 编码的模型返回 tiktoken 计数器（编码加载失败时自动回退估算），
// 其余模型返回估算器。
func ForModel(model string) Counter {
	if enc, ok := encodingFor(model); ok {
		return newTiktokenCounter(enc)
	}
	return Estimator{}
}

// Estimator 基于字符数估算 Token：CJK 约 1.5 字符/Token，其余约 4 字符/Token
type Estimator struct{}

// Name 实现 Counter
func (Estimator) Name() string { return "estimator" }

// Count 实现 Counter
func (Estimator) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}

	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
