package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/types"
)

const chatCompletionsSuffix = "/chat/completions"

// OpenAIProvider implements image generation against an OpenAI-compatible
// chat-completions endpoint that returns images through a modality
// extension. Gateways disagree on where image payloads live in the
// response; Invoke handles a data-URI embedded in a string body, a
// structured content-part array, and plain text.
type OpenAIProvider struct {
	cfg    types.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible image provider.
func NewOpenAIProvider(cfg types.ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With(zap.String("provider", "openai_compatible")),
	}
}

func (p *OpenAIProvider) Name() string { return "openai_compatible" }

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiMessage struct {
	Role    string              `json:"role"`
	Content []openaiContentPart `json:"content"`
}

type openaiImageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

// openaiRequest is a chat-completions request plus the non-standard
// extension fields carrying the image modality hints.
type openaiRequest struct {
	Model       string             `json:"model"`
	Messages    []openaiMessage    `json:"messages"`
	Modalities  []string           `json:"modalities,omitempty"`
	ImageConfig *openaiImageConfig `json:"image_config,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason,omitempty"`
		Message      struct {
			Content json.RawMessage `json:"content"`
			Images  []struct {
				ImageURL openaiImageURL `json:"image_url"`
			} `json:"images,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// dataURIPattern extracts embedded image data URIs from a string body.
var dataURIPattern = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// chatEndpoint appends the chat-completions path unless the base URL is
// already pre-shaped.
func chatEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, chatCompletionsSuffix) {
		return base
	}
	lastSegment := base
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		lastSegment = base[idx+1:]
	}
	if !versionedRoot.MatchString(lastSegment) {
		base += "/v1"
	}
	return base + chatCompletionsSuffix
}

// Invoke performs one chat-completions attempt.
func (p *OpenAIProvider) Invoke(ctx context.Context, parts []multimodal.Part, opts types.ImageOptions) (*Result, error) {
	content := make([]openaiContentPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case multimodal.PartTypeText:
			content = append(content, openaiContentPart{Type: "text", Text: part.Text})
		case multimodal.PartTypeImage:
			content = append(content, openaiContentPart{
				Type: "image_url",
				ImageURL: &openaiImageURL{
					URL: multimodal.FormatDataURI(types.ImageInput{MimeType: part.MimeType, Data: part.Data}),
				},
			})
		}
	}

	body := openaiRequest{
		Model:      p.cfg.Model,
		Messages:   []openaiMessage{{Role: "user", Content: content}},
		Modalities: []string{"image"},
	}
	var imgCfg openaiImageConfig
	if opts.AspectRatio != "" && opts.AspectRatio != types.DefaultAspectRatio {
		imgCfg.AspectRatio = opts.AspectRatio
	}
	if opts.Resolution != "" && opts.Resolution != types.DefaultResolution {
		imgCfg.Resolution = opts.Resolution
	}
	if imgCfg != (openaiImageConfig{}) {
		body.ImageConfig = &imgCfg
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatEndpoint(p.cfg.BaseURL), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, "chat completion request failed").
			WithProvider(p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstreamError(p.Name(), resp.StatusCode, string(errBody))
	}

	var oResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed chat completion response").
			WithProvider(p.Name()).WithCause(err)
	}
	if oResp.Error != nil {
		return nil, types.NewError(types.ErrUpstreamError, oResp.Error.Message).WithProvider(p.Name())
	}
	if len(oResp.Choices) == 0 {
		return nil, noContentError(p.Name())
	}

	choice := oResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, safetyError(p.Name(), choice.FinishReason)
	}

	result := &Result{}
	for _, img := range choice.Message.Images {
		p.appendImageURL(result, img.ImageURL.URL)
	}
	if err := p.parseContent(result, choice.Message.Content); err != nil {
		return nil, err
	}

	if result.Empty() {
		return nil, noContentError(p.Name())
	}
	return result, nil
}

// parseContent handles the three message.content shapes gateways produce.
func (p *OpenAIProvider) parseContent(result *Result, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	// Shape 1/3: a plain string, possibly with embedded data URIs.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		uris := dataURIPattern.FindAllString(text, -1)
		for _, uri := range uris {
			p.appendImageURL(result, uri)
		}
		remainder := text
		for _, uri := range uris {
			remainder = strings.ReplaceAll(remainder, uri, "")
		}
		if remainder = strings.TrimSpace(remainder); remainder != "" {
			result.Text = joinText(result.Text, remainder)
		}
		return nil
	}

	// Shape 2: a structured content-part array.
	var contentParts []openaiContentPart
	if err := json.Unmarshal(raw, &contentParts); err != nil {
		return types.NewError(types.ErrUpstreamError, "unrecognized message content shape").
			WithProvider(p.Name())
	}
	for _, part := range contentParts {
		switch {
		case part.ImageURL != nil:
			p.appendImageURL(result, part.ImageURL.URL)
		case part.Text != "":
			result.Text = joinText(result.Text, part.Text)
		}
	}
	return nil
}

// appendImageURL decodes a data-URI image payload into the result.
// Remote (non data-URI) urls and malformed payloads are dropped with a
// diagnostic.
func (p *OpenAIProvider) appendImageURL(result *Result, uri string) {
	in, err := multimodal.ParseDataURI(uri)
	if err != nil {
		p.logger.Warn("dropping unusable image url", zap.Error(err))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		p.logger.Warn("dropping image with invalid base64 payload", zap.Error(err))
		return
	}
	result.Images = append(result.Images, ImageData{Data: raw, MimeType: in.MimeType})
}

func joinText(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}
