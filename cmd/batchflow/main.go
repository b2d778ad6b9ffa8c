// =============================================================================
// BatchFlow 主入口
// =============================================================================
// 批量 LLM 调用命令行工具：远程 JSONL 批任务与进程内并发执行
//
// 使用方法:
//
//	batchflow submit --prompts prompts.txt            # 提交远程批任务并等待结果
//	batchflow submit --prompts p.txt --wait=false     # 仅提交
//	batchflow run --prompts prompts.txt               # 进程内并发执行
//	batchflow history --limit 20                      # 查看归档任务
//	batchflow version                                 # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/batchflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(os.Args[2:])
	case "run":
		err = runExecute(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("BatchFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`BatchFlow - LLM batch execution

Usage:
  batchflow <command> [options]

Commands:
  submit    Build a JSONL batch file, submit it and poll for results
  run       Execute prompts in-process with bounded concurrency and retries
  history   List archived batch jobs (requires redis.enabled)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>    Path to configuration file (YAML)
  --prompts <path>   Text file with one prompt per line ("-" reads stdin)
  --system <text>    System instruction applied to every prompt

Options for 'submit':
  --wait             Poll until the job is terminal (default true)
  --results          Print every result as a JSON line
  --cleanup          Delete batch files after the job is archived

Options for 'history':
  --limit <n>        Maximum number of jobs to list (default 20)

Examples:
  batchflow submit --prompts prompts.txt
  batchflow submit --config /etc/batchflow/config.yaml --prompts prompts.txt --results
  batchflow run --prompts prompts.txt --system "Answer in one sentence."
  batchflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// stdout 留给结果输出
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
