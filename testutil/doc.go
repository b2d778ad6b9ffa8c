// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 batchflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertFileMissing，检查清理后的批文件
  - 异步等待: AssertEventuallyTrue / WaitForChannel，超时轮询
  - 文件读取: ReadLines / ReadJSONL，用于检查批文件与结果文件

# 使用示例

	ctx := testutil.TestContext(t)
	job, err := bp.PollBatchJob(ctx, job, 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	lines := testutil.ReadLines(t, job.OutputFilePath)
*/
package testutil
