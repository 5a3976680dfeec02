package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/types"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash-image"

	generateContentSuffix = ":generateContent"
)

// GeminiProvider implements image generation against Gemini's native
// generateContent API. With a BaseURL override it targets a proxy exposing
// the same wire shape.
type GeminiProvider struct {
	cfg    types.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a new Gemini image provider.
func NewGeminiProvider(cfg types.ProviderConfig, logger *zap.Logger) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With(zap.String("provider", "gemini")),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiGenConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		FinishReason string `json:"finishReason,omitempty"`
		Content      struct {
			Parts []struct {
				Text       string        `json:"text,omitempty"`
				InlineData *geminiInline `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

// genConfig builds the generation options, carrying only the fields that
// differ from the provider defaults.
func genConfig(opts types.ImageOptions) *geminiGenConfig {
	cfg := &geminiGenConfig{ResponseModalities: []string{"IMAGE"}}

	var img geminiImageConfig
	if opts.AspectRatio != "" && opts.AspectRatio != types.DefaultAspectRatio {
		img.AspectRatio = opts.AspectRatio
	}
	if opts.Resolution != "" && opts.Resolution != types.DefaultResolution {
		img.ImageSize = opts.Resolution
	}
	if img != (geminiImageConfig{}) {
		cfg.ImageConfig = &img
	}
	return cfg
}

// versionedRoot matches a bare API version as the last path segment, e.g.
// /v1, /v1beta, /v2alpha1.
var versionedRoot = regexp.MustCompile(`^v\d+[a-z]*\d*$`)

// geminiEndpoint normalizes a proxy base URL into a full generateContent
// endpoint. Accepts a pre-shaped URL (already ending in :generateContent),
// a model-scoped path (".../models/{model}"), a bare versioned root
// (".../v1beta"), or a bare host.
func geminiEndpoint(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, generateContentSuffix) {
		return base
	}
	if strings.Contains(base, "/models/") {
		return base + generateContentSuffix
	}

	lastSegment := base
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		lastSegment = base[idx+1:]
	}
	if !versionedRoot.MatchString(lastSegment) {
		base += "/v1beta"
	}
	return base + "/models/" + url.PathEscape(model) + generateContentSuffix
}

// Invoke performs one generateContent attempt.
func (p *GeminiProvider) Invoke(ctx context.Context, parts []multimodal.Part, opts types.ImageOptions) (*Result, error) {
	wireParts := make([]geminiPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case multimodal.PartTypeText:
			wireParts = append(wireParts, geminiPart{Text: part.Text})
		case multimodal.PartTypeImage:
			wireParts = append(wireParts, geminiPart{
				InlineData: &geminiInline{MimeType: part.MimeType, Data: part.Data},
			})
		}
	}

	body := geminiRequest{
		Contents:         []geminiContent{{Parts: wireParts, Role: "user"}},
		GenerationConfig: genConfig(opts),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode request").WithCause(err)
	}

	endpoint := geminiEndpoint(defaultGeminiBaseURL, p.cfg.Model)
	proxied := p.cfg.BaseURL != ""
	if proxied {
		endpoint = geminiEndpoint(p.cfg.BaseURL, p.cfg.Model)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	if proxied {
		// Proxies differ on which credential convention they forward.
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, "gemini request failed").
			WithProvider(p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstreamError(p.Name(), resp.StatusCode, string(errBody))
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed gemini response").
			WithProvider(p.Name()).WithCause(err)
	}

	if gResp.PromptFeedback.BlockReason != "" {
		return nil, safetyError(p.Name(), gResp.PromptFeedback.BlockReason)
	}

	result := &Result{}
	var texts []string
	for _, candidate := range gResp.Candidates {
		if isSafetyFinish(candidate.FinishReason) {
			return nil, safetyError(p.Name(), candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			switch {
			case part.InlineData != nil:
				raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					p.logger.Warn("dropping image with invalid base64 payload", zap.Error(err))
					continue
				}
				result.Images = append(result.Images, ImageData{
					Data:     raw,
					MimeType: part.InlineData.MimeType,
				})
			case part.Text != "":
				texts = append(texts, part.Text)
			}
		}
	}
	result.Text = strings.Join(texts, "\n")

	if result.Empty() {
		return nil, noContentError(p.Name())
	}

	p.logger.Debug("gemini attempt succeeded",
		zap.Int("images", len(result.Images)),
		zap.Bool("has_text", result.Text != ""),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func isSafetyFinish(reason string) bool {
	switch reason {
	case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return true
	}
	return false
}
