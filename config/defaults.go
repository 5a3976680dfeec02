// =============================================================================
// 📦 ImageFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Provider: DefaultProviderConfig(),
		Batch:    DefaultBatchConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultProviderConfig 返回默认服务商配置
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Kind:  string(types.ProviderGemini),
		Model: "gemini-2.5-flash-image",
	}
}

// DefaultBatchConfig 返回默认批量生成配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:          4,
		Concurrency:   10,
		MaxImageBytes: multimodal.DefaultMaxImageBytes,
		AspectRatio:   types.DefaultAspectRatio,
		Resolution:    types.DefaultResolution,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}
