// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 提供 LLM 推理请求的两种批量执行方式：远程异步批任务与
进程内的有界并发执行器。

# 概述

远程批处理将请求序列化为 JSONL 文件提交给 provider，再周期性轮询
直到任务结束并收集结果；进程内执行则以有界并发、共享限流与指数退避
重试逐条调用下游。两条路径共用 BatchRequest 与 BatchResult。

# 核心类型

  - BatchRequest：不可变的单条请求，ToWireRecord 生成 provider 批文件记录。
  - BatchJob：远程批任务，状态 PENDING → PROCESSING → COMPLETED | FAILED | CANCELLED。
  - BatchProcessor：任务注册表与生命周期管理（构建、提交、轮询、取消、清理）。
  - RemoteClient：下游批处理服务抽象，内置 LocalClient 与 GeminiClient。
  - SmartBatchProcessor：泛型执行器，返回 BatchExecutionResult。

# 并发约定

BatchProcessor 的注册表和所有状态转换都在同一把锁内完成，终态不可再转换。
轮询期间并发读取任务请使用 Snapshot。

# 使用方式

	bp := batch.NewBatchProcessor(batch.DefaultBatchConfig(), nil, logger)
	reqs := []batch.BatchRequest{bp.CreateBatchRequest("hello")}
	job, err := bp.CreateBatchJob(reqs)
	job, err = bp.SubmitBatchJob(ctx, job, nil)
	job, err = bp.PollBatchJob(ctx, job, 30*time.Second, 24*time.Hour)

	exec, err := batch.NewSmartBatchProcessor[int, int](batch.DefaultExecutorConfig(), logger,
	    batch.WithRateLimiter(ratelimit.NewAsyncRateLimiter(60)))
	res := exec.ProcessBatch(ctx, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
	    return n * 2, nil
	})
*/
package batch
