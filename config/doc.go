// Package config 提供 BatchFlow 的配置管理功能。
//
// 配置按默认值、YAML 文件、环境变量（默认前缀 BATCHFLOW）的顺序叠加，
// 其中 Batch 段同时作为请求构造时 model/temperature/max_output_tokens 的默认值来源。
package config
