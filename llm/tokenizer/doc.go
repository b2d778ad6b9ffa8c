// Package tokenizer 为批处理结果的 usage 统计提供 Token 计数，
// OpenAI 系列模型走 tiktoken 精确计数，其余模型使用区分 CJK 的字符估算器。
package tokenizer
