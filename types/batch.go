package types

// ProviderKind selects which provider adapter handles a batch.
type ProviderKind string

const (
	ProviderGemini           ProviderKind = "gemini"
	ProviderOpenAICompatible ProviderKind = "openai_compatible"
)

// ProviderConfig selects the provider adapter and its wire parameters.
// A non-empty BaseURL on the gemini path switches the adapter from the
// default Google endpoint to a raw-HTTP proxy call with the same wire shape.
type ProviderConfig struct {
	Kind    ProviderKind `json:"kind" yaml:"kind"`
	APIKey  string       `json:"api_key" yaml:"api_key"`
	BaseURL string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string       `json:"model,omitempty" yaml:"model,omitempty"`
}

// Default generation options. Only values differing from these are sent
// on the wire.
const (
	DefaultAspectRatio = "1:1"
	DefaultResolution  = "1K"
)

// ImageOptions carries the generation hints shared by all task slots of
// a batch.
type ImageOptions struct {
	AspectRatio string `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"` // e.g. "1:1", "16:9"
	Resolution  string `json:"resolution,omitempty" yaml:"resolution,omitempty"`     // e.g. "1K", "2K", "4K"
}

// MaxBatchSize bounds the number of task slots in one batch.
const MaxBatchSize = 20

// BatchRequest is one logical "generate N images" request. It is immutable
// for the lifetime of the batch; all workers share it read-only.
type BatchRequest struct {
	Prompt      string         `json:"prompt,omitempty"`
	PriorImages []ImageInput   `json:"prior_images,omitempty"`
	FreshImages []ImageInput   `json:"fresh_images,omitempty"`
	BatchSize   int            `json:"batch_size"`
	Options     ImageOptions   `json:"options,omitempty"`
	Provider    ProviderConfig `json:"provider"`
}

// Validate checks the batch-level constraints that must hold before any
// worker is spawned.
func (r *BatchRequest) Validate() error {
	if r.BatchSize < 1 || r.BatchSize > MaxBatchSize {
		return NewError(ErrInvalidRequest, "batch size must be between 1 and 20")
	}
	if r.Provider.APIKey == "" {
		return NewError(ErrInvalidRequest, "api key is required")
	}
	switch r.Provider.Kind {
	case ProviderGemini, ProviderOpenAICompatible:
	default:
		return NewError(ErrInvalidRequest, "unknown provider kind: "+string(r.Provider.Kind))
	}
	return nil
}

// ResultStatus marks a GeneratedImage as a real image or a degraded
// error placeholder for its task slot.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// GeneratedImage is the terminal outcome of one task slot (or one of
// several images returned by a single upstream call). ID is fresh and
// unique per result.
type GeneratedImage struct {
	ID       string       `json:"id"`
	Data     []byte       `json:"data,omitempty"`
	MimeType string       `json:"mime_type,omitempty"`
	Status   ResultStatus `json:"status"`
	Err      string       `json:"error,omitempty"`
}
