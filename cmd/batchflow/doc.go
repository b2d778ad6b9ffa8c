// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 BatchFlow 命令行程序入口。

# 概述

cmd/batchflow 将提示词文件转换为批量 LLM 调用，支持两种模式：
远程 JSONL 批任务（submit）与进程内并发执行（run）。程序支持
YAML 配置加载、结构化日志（zap）、Prometheus 指标端点、
OpenTelemetry 追踪以及基于 Redis 的任务归档。

# 子命令

  - submit：生成 JSONL 批文件，提交到 local 或 gemini 后端，轮询到终态后输出汇总
  - run：以有界并发、限流和指数退避重试逐条调用后端
  - history：列出 Redis 中归档的任务
  - version / help

# 关闭流程

SIGINT/SIGTERM 取消命令上下文；submit 在中断时取消远端任务。
退出前依次关闭指标端点、归档连接与遥测 provider。
版本信息 Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
