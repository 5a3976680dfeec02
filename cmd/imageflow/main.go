// =============================================================================
// ImageFlow 主入口
// =============================================================================
// 从命令行运行一次批量图像生成
//
// 使用方法:
//
//	imageflow -prompt "a red fox" -n 4 -out ./out
//	imageflow -config config.yaml -prompt "合并第一张图和第二张图" -image a.png -image b.png
// =============================================================================
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imageflow/batch"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/providers"
	"github.com/BaSui01/imageflow/retry"
	"github.com/BaSui01/imageflow/types"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		prompt     = flag.String("prompt", "", "text prompt")
		n          = flag.Int("n", 0, "number of images to generate (overrides config)")
		outDir     = flag.String("out", ".", "output directory for generated images")
		images     stringList
	)
	flag.Var(&images, "image", "image file to attach (repeatable)")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "imageflow: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	batchSize := cfg.Batch.Size
	if *n > 0 {
		batchSize = *n
	}

	fresh, err := loadImages(images)
	if err != nil {
		logger.Fatal("failed to load input images", zap.Error(err))
	}

	provider, err := providers.New(cfg.ProviderSettings(), logger)
	if err != nil {
		logger.Fatal("failed to build provider", zap.Error(err))
	}

	req := &types.BatchRequest{
		Prompt:      *prompt,
		FreshImages: fresh,
		BatchSize:   batchSize,
		Options: types.ImageOptions{
			AspectRatio: cfg.Batch.AspectRatio,
			Resolution:  cfg.Batch.Resolution,
		},
		Provider: cfg.ProviderSettings(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Batch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Batch.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatal("failed to create output directory", zap.Error(err))
	}

	saved := 0
	sink := batch.SinkFuncs{
		Image: func(img types.GeneratedImage) {
			if img.Status != types.StatusSuccess {
				logger.Warn("slot failed", zap.String("id", img.ID), zap.String("error", img.Err))
				return
			}
			path := filepath.Join(*outDir, img.ID+extensionFor(img.MimeType))
			if err := os.WriteFile(path, img.Data, 0o644); err != nil {
				logger.Error("failed to write image", zap.String("path", path), zap.Error(err))
				return
			}
			saved++
			logger.Info("saved image", zap.String("path", path))
		},
		Text: func(text string) {
			fmt.Println(text)
		},
		Progress: func(completed, total int) {
			logger.Info("progress", zap.Int("completed", completed), zap.Int("total", total))
		},
	}

	dispatcher := batch.NewDispatcher(provider, logger,
		batch.WithConcurrency(cfg.Batch.Concurrency),
		batch.WithMaxImageBytes(cfg.Batch.MaxImageBytes),
		batch.WithRetryPolicy(retry.DefaultPolicy()),
	)

	if err := dispatcher.Run(ctx, req, sink); err != nil {
		logger.Fatal("batch rejected", zap.Error(err))
	}

	logger.Info("done", zap.Int("saved", saved), zap.Int("requested", batchSize))
	if saved == 0 {
		os.Exit(1)
	}
}

// loadImages reads image files into base64 inputs, sniffing the mime type
// from the content.
func loadImages(paths []string) ([]types.ImageInput, error) {
	var out []types.ImageInput
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, types.ImageInput{
			MimeType: http.DetectContentType(data),
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return out, nil
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// buildLogger 根据配置构建 zap logger
func buildLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
