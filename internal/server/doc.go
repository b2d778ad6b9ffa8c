// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 为批处理 CLI 提供旁路 HTTP 端点，用于在长时间轮询期间
暴露 Prometheus 指标与存活检查。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供非阻塞 Start、
    可重复调用的 Shutdown 以及异步错误通道。
  - MetricsHandler：挂载 /metrics（promhttp）与 /healthz。

信号监听由调用方通过 context 处理，本包不注册任何信号。
*/
package server
