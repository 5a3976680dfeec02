// =============================================================================
// 📦 ImageFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("IMAGEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 imageflow 的完整配置结构
type Config struct {
	// Provider 服务商配置
	Provider ProviderConfig `yaml:"provider" env:"PROVIDER"`

	// Batch 批量生成配置
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ProviderConfig 服务商配置
type ProviderConfig struct {
	// 服务商类型: gemini, openai_compatible
	Kind string `yaml:"kind" env:"KIND"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，gemini 路径下非空时走代理）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
}

// BatchConfig 批量生成配置
type BatchConfig struct {
	// 默认批量大小 (1..20)
	Size int `yaml:"size" env:"SIZE"`
	// 并发上限
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// 单张图像最大字节数（按解码后估算）
	MaxImageBytes int `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"`
	// 宽高比
	AspectRatio string `yaml:"aspect_ratio" env:"ASPECT_RATIO"`
	// 分辨率
	Resolution string `yaml:"resolution" env:"RESOLUTION"`
	// 单个批次的整体超时（零值表示不限制）
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// ProviderSettings 转换为批量请求所需的 types.ProviderConfig
func (c *Config) ProviderSettings() types.ProviderConfig {
	return types.ProviderConfig{
		Kind:    types.ProviderKind(c.Provider.Kind),
		APIKey:  c.Provider.APIKey,
		BaseURL: c.Provider.BaseURL,
		Model:   c.Provider.Model,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "IMAGEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range append(l.validators, validate) {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}

// validate 检查配置取值范围
func validate(cfg *Config) error {
	if cfg.Batch.Size < 1 || cfg.Batch.Size > types.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", types.MaxBatchSize, cfg.Batch.Size)
	}
	if cfg.Batch.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be positive, got %d", cfg.Batch.Concurrency)
	}
	switch types.ProviderKind(cfg.Provider.Kind) {
	case types.ProviderGemini, types.ProviderOpenAICompatible:
	default:
		return fmt.Errorf("unknown provider kind: %q", cfg.Provider.Kind)
	}
	return nil
}
