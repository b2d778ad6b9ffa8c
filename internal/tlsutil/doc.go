// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 为访问下游 LLM 批处理 API 的 HTTP 客户端提供加固的 TLS 配置
// （TLS 1.2+，TLS 1.2 下仅 AEAD 密码套件）。
package tlsutil
