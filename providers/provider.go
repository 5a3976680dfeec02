// Package providers contains the adapters that translate a normalized
// multimodal message into a provider-specific wire call and the wire
// response back into a normalized result.
package providers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/types"
)

// requestTimeout bounds one upstream attempt. Image generation calls are
// slow; 120s matches the upstream defaults.
const requestTimeout = 120 * time.Second

// ImageData is one generated image returned by a provider.
type ImageData struct {
	Data     []byte
	MimeType string
}

// Result is the provider-agnostic outcome of one successful upstream call:
// one or more images, text, or both.
type Result struct {
	Images []ImageData
	Text   string
}

// Empty reports whether the result carries neither image nor text content.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Images) == 0 && r.Text == "")
}

// Provider is the capability contract shared by all adapter variants.
// Invoke performs exactly one upstream attempt; retries are the caller's
// concern. The adapter owns the outbound request object for the duration
// of the attempt and aborts it when ctx is cancelled.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, parts []multimodal.Part, opts types.ImageOptions) (*Result, error)
}

// New selects the adapter variant for the given provider config.
func New(cfg types.ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Kind {
	case types.ProviderGemini:
		return NewGeminiProvider(cfg, logger), nil
	case types.ProviderOpenAICompatible:
		return NewOpenAIProvider(cfg, logger), nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown provider kind: %q", cfg.Kind))
	}
}

// upstreamError classifies a non-2xx response or malformed envelope.
func upstreamError(provider string, status int, detail string) *types.Error {
	return types.NewError(types.ErrUpstreamError,
		fmt.Sprintf("upstream returned status %d: %s", status, detail)).
		WithHTTPStatus(status).
		WithProvider(provider)
}

// safetyError classifies a content-policy refusal. Never a generic error:
// the dispatcher logs these distinctly.
func safetyError(provider, reason string) *types.Error {
	return types.NewError(types.ErrContentFiltered,
		fmt.Sprintf("blocked by content safety filter: %s", reason)).
		WithProvider(provider)
}

// noContentError classifies a well-formed response that contains neither
// image nor text content.
func noContentError(provider string) *types.Error {
	return types.NewError(types.ErrNoContent,
		"response contains neither image nor text content").
		WithProvider(provider)
}
