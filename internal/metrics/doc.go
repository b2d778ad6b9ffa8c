// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的批处理指标采集能力，覆盖
远程批处理任务生命周期与进程内执行器两大维度。

# 核心类型

  - Collector：指标收集器，通过 promauto 注册到默认或指定 Registry，
    所有记录方法允许 nil 接收者，未启用指标时调用方无需判空。

# 主要能力

  - 任务指标：创建数、状态转换（from/to）、终态耗时、活跃任务数、
    远程状态查询次数与清理数量。
  - 执行器指标：条目最终结果、每条尝试次数、条目耗时、重试次数、
    限流等待时长。
*/
package metrics
