// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 archive 提供基于 Redis 的批处理任务归档，在任务从内存注册表
清理前保存其终态快照，便于事后查询。

# 概述

每个任务快照以 JSON 形式存储在 <KeyPrefix><job_id> 键下并设置 TTL，
同时写入按创建时间排序的 ZSET 索引。索引中过期的条目在 List 时惰性清除。

# 核心类型

  - RedisArchive：实现 batch.JobArchive，另提供 Load/List/Delete 查询接口。
  - Config：Redis 地址、密码、数据库编号、TTL 与键前缀。

# 错误语义

  - ErrNotFound：归档不存在或已过期。
  - ErrClosed：归档已关闭。
*/
package archive
