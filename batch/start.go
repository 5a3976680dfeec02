package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/providers"
	"github.com/BaSui01/imageflow/types"
)

// Settings carries the per-session generation settings resolved by the
// caller (the session/UI layer owns key storage and validation of
// user-supplied limits; the dispatcher only consumes the resolved values).
type Settings struct {
	Provider  types.ProviderConfig
	BatchSize int
	Options   types.ImageOptions
}

// Start is the session-layer entrypoint: it collects the selected images
// from the prior conversation, selects the provider adapter, and runs one
// batch against sink. Cancellation of ctx stops the batch cooperatively.
func Start(ctx context.Context, prompt string, priorMessages []types.Message, settings Settings, freshImages []types.ImageInput, sink EventSink, logger *zap.Logger, opts ...Option) error {
	provider, err := providers.New(settings.Provider, logger)
	if err != nil {
		return err
	}

	req := &types.BatchRequest{
		Prompt:      prompt,
		PriorImages: multimodal.SelectedImages(priorMessages),
		FreshImages: freshImages,
		BatchSize:   settings.BatchSize,
		Options:     settings.Options,
		Provider:    settings.Provider,
	}
	return NewDispatcher(provider, logger, opts...).Run(ctx, req, sink)
}
