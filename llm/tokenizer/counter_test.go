package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_Count(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "whitespace", text: "   ", want: 0},
		{name: "short ascii rounds up to one", text: "hi", want: 1},
		{name: "ascii", text: "the quick brown fox jumps", want: 6},
		{name: "cjk", text: "你好世界", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimator{}.Count(tt.text))
		})
	}
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "estimator", ForModel("gemini-2.0-flash").Name())
	assert.Equal(t, "tiktoken:o200k_base", ForModel("gpt-4o-mini-2024").Name())
	assert.Equal(t, "tiktoken:cl100k_base", ForModel("gpt-4-turbo").Name())
}

func TestTiktokenCounter_EmptyText(t *testing.T) {
	// 空文本不触发编码表加载
	assert.Equal(t, 0, ForModel("gpt-4").Count(""))
}
