// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 imageflow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 multimodal、providers、
retry、batch 等上层模块提供统一的类型契约：

  - ImageInput / Message    — 多模态输入（base64 图像负载 + 会话消息）
  - BatchRequest            — 一次批量生成请求（1..20 个任务槽）
  - GeneratedImage          — 单个任务槽的最终结果（success / error）
  - ImageOptions            — 宽高比与分辨率等生成选项
  - ProviderConfig          — 服务商选择（gemini / openai_compatible）
  - Error / ErrorCode       — 结构化错误体系，含 HTTP 状态码与失败分类
*/
package types
